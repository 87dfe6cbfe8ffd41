package auth

import (
	"context"
	"time"
)

// Store is the persistence contract the auth service works against. The
// Postgres implementation lives in repository.go.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateAvatar(ctx context.Context, userID, avatarURL string) (User, error)

	CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error
	// RotateRefreshToken atomically revokes the old token and records its
	// replacement, returning the owning user id. Exactly one of any set of
	// concurrent rotations of the same token succeeds.
	RotateRefreshToken(ctx context.Context, rawOldToken, rawNewToken string, newExpiresAt time.Time) (string, error)
	RevokeRefreshToken(ctx context.Context, rawToken string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error

	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}
