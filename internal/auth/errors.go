package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrDuplicateUser       = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrExpiredToken        = errors.New("token expired")
	ErrMalformedToken      = errors.New("token malformed")
	ErrRevokedToken        = errors.New("token revoked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrNoToken             = errors.New("no authorization token")
)

// ErrLoginLocked reports a temporary lock after repeated failed logins.
type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
