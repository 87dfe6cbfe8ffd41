package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"contacts-api/internal/cache"
)

const (
	TokenAccess = "access"
	TokenVerify = "verify"
	TokenReset  = "reset"
)

const (
	defaultAccessTTL = 15 * time.Minute
	defaultVerifyTTL = 24 * time.Hour
	defaultResetTTL  = 30 * time.Minute

	revokedKeyPrefix = "revoked:"
)

// TokenService issues and verifies HS256-signed, time-limited tokens and
// tracks explicit revocations in the shared cache. Revocation entries carry
// a TTL equal to the token's remaining lifetime, so the set self-prunes.
type TokenService struct {
	secret      []byte
	revocations cache.Cache
	accessTTL   time.Duration
	verifyTTL   time.Duration
	resetTTL    time.Duration
}

func NewTokenService(secret string, revocations cache.Cache) *TokenService {
	return &TokenService{
		secret:      []byte(secret),
		revocations: revocations,
		accessTTL:   defaultAccessTTL,
		verifyTTL:   defaultVerifyTTL,
		resetTTL:    defaultResetTTL,
	}
}

func (s *TokenService) WithTTLs(access, verify, reset time.Duration) {
	if access > 0 {
		s.accessTTL = access
	}
	if verify > 0 {
		s.verifyTTL = verify
	}
	if reset > 0 {
		s.resetTTL = reset
	}
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Issue signs a token of the given type for the user. Each token carries a
// unique jti so it can be revoked individually.
func (s *TokenService) Issue(userID, tokenType string) (string, error) {
	ttl, err := s.ttlFor(tokenType)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, nil
}

// Verify checks signature, expiry, type tag, and revocation-set membership,
// in that order, and returns the user id the token was issued for.
func (s *TokenService) Verify(ctx context.Context, tokenStr, wantType string) (string, error) {
	claims, err := s.parse(tokenStr)
	if err != nil {
		return "", err
	}

	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		return "", ErrMalformedToken
	}
	userID, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	if userID == "" || jti == "" {
		return "", ErrMalformedToken
	}

	_, err = s.revocations.Get(ctx, revokedKeyPrefix+jti)
	switch {
	case err == nil:
		return "", ErrRevokedToken
	case errors.Is(err, cache.ErrMiss):
		return userID, nil
	default:
		return "", fmt.Errorf("check revocation set: %w", err)
	}
}

// Revoke adds the token to the revocation set for its remaining lifetime.
// Revoking an already-revoked or already-expired token is a no-op success.
func (s *TokenService) Revoke(ctx context.Context, tokenStr string) error {
	claims, err := s.parse(tokenStr)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil
		}
		return err
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return ErrMalformedToken
	}

	remaining := time.Until(expiryOf(claims))
	if remaining <= 0 {
		return nil
	}

	if err := s.revocations.Set(ctx, revokedKeyPrefix+jti, "1", remaining); err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}

	return nil
}

func (s *TokenService) parse(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrMalformedToken
	}
	if !token.Valid {
		return nil, ErrMalformedToken
	}

	return claims, nil
}

func (s *TokenService) ttlFor(tokenType string) (time.Duration, error) {
	switch tokenType {
	case TokenAccess:
		return s.accessTTL, nil
	case TokenVerify:
		return s.verifyTTL, nil
	case TokenReset:
		return s.resetTTL, nil
	default:
		return 0, fmt.Errorf("unknown token type %q", tokenType)
	}
}

func expiryOf(claims jwt.MapClaims) time.Time {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
