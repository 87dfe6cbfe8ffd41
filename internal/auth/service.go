package auth

import (
	"context"
	"crypto/md5" // #nosec G401: gravatar addresses are keyed by MD5 of the email.
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"contacts-api/internal/cache"
)

const (
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute

	userKeyPrefix = "user:"
)

type Service struct {
	store        Store
	tokens       *TokenService
	hasher       Hasher
	notifier     Notifier
	users        cache.Cache
	refreshTTL   time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(store Store, tokens *TokenService, notifier Notifier, users cache.Cache) *Service {
	return &Service{
		store:        store,
		tokens:       tokens,
		hasher:       NewHasher(),
		notifier:     notifier,
		users:        users,
		refreshTTL:   defaultRefreshTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, refreshTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an unverified user and hands a verification token to the
// notifier. Duplicate email or username fails with ErrDuplicateUser.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input.Username = strings.TrimSpace(strings.ToLower(input.Username))
	input.Email = normalizeEmail(input.Email)

	if _, err := s.store.GetUserByEmail(ctx, input.Email); err == nil {
		return User{}, ErrDuplicateUser
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}
	if _, err := s.store.GetUserByUsername(ctx, input.Username); err == nil {
		return User{}, ErrDuplicateUser
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         RoleUser,
		AvatarURL:    gravatarURL(input.Email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return User{}, err
	}

	verifyToken, err := s.tokens.Issue(user.ID, TokenVerify)
	if err != nil {
		return User{}, err
	}
	if err := s.notifier.SendVerification(ctx, user.Email, verifyToken); err != nil {
		return User{}, fmt.Errorf("send verification token: %w", err)
	}

	return user, nil
}

// Login verifies credentials and issues an access/refresh pair. Unknown
// users and wrong passwords take the same failure path so responses don't
// leak which emails exist; both count toward the lockout window.
func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.store.GetLoginAttempt(ctx, email)
	if err != nil {
		return Tokens{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return Tokens{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, s.failLogin(ctx, email, now)
		}
		return Tokens{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return Tokens{}, s.failLogin(ctx, email, now)
	}

	if err := s.store.ResetLoginAttempt(ctx, email); err != nil {
		return Tokens{}, err
	}

	return s.issueTokens(ctx, user.ID)
}

// Refresh exchanges a valid refresh token for a new access/refresh pair.
// The old refresh token is revoked inside the rotation transaction, so a
// replayed or concurrently reused token loses with ErrInvalidRefreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	newRefresh, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate new refresh token: %w", err)
	}

	newExp := time.Now().UTC().Add(s.refreshTTL)
	userID, err := s.store.RotateRefreshToken(ctx, refreshToken, newRefresh, newExp)
	if err != nil {
		return Tokens{}, err
	}

	access, err := s.tokens.Issue(userID, TokenAccess)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes the presented access token and, when given, the refresh
// token. Both revocations are idempotent.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, accessToken); err != nil {
		return err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.store.RevokeRefreshToken(ctx, refreshToken)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.tokens.Verify(ctx, token, TokenVerify)
	if err != nil {
		return err
	}

	if err := s.store.MarkVerified(ctx, userID); err != nil {
		return err
	}

	return s.users.Del(ctx, userKeyPrefix+userID)
}

// RequestPasswordReset issues a reset token for the account, if one exists.
// It reports success either way so callers can't probe for registered emails.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	resetToken, err := s.tokens.Issue(user.ID, TokenReset)
	if err != nil {
		return err
	}

	return s.notifier.SendPasswordReset(ctx, user.Email, resetToken)
}

// ConfirmPasswordReset consumes a reset token, replaces the password hash,
// and invalidates every live session of the account: the reset token itself
// is revoked (single use), all refresh tokens are revoked, and the cached
// user entry is dropped.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	newPassword = strings.TrimSpace(newPassword)
	if newPassword == "" {
		return ErrInvalidCredentials
	}

	userID, err := s.tokens.Verify(ctx, token, TokenReset)
	if err != nil {
		return err
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.store.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return err
	}

	return s.users.Del(ctx, userKeyPrefix+userID)
}

func (s *Service) failLogin(ctx context.Context, email string, now time.Time) error {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) issueTokens(ctx context.Context, userID string) (Tokens, error) {
	access, err := s.tokens.Issue(userID, TokenAccess)
	if err != nil {
		return Tokens{}, err
	}

	refreshToken, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.CreateRefreshToken(ctx, userID, refreshToken, time.Now().UTC().Add(s.refreshTTL)); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func gravatarURL(email string) string {
	hash := md5.Sum([]byte(email))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?d=identicon", hex.EncodeToString(hash[:]))
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
