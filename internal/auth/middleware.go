package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"contacts-api/internal/cache"
	"contacts-api/internal/observability"
)

type contextKey struct{}

// ContextWithUser attaches a resolved user to the context. The guard calls
// it after verification; handler tests use it directly.
func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user the guard resolved for this request.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}

// UserSource is the subset of Store the guard needs.
type UserSource interface {
	GetUserByID(ctx context.Context, id string) (User, error)
}

// Guard gates requests on a valid bearer access token and attaches the
// resolved user to the request context. User rows are read through the
// shared cache to keep the hot path off the database.
type Guard struct {
	tokens  *TokenService
	users   UserSource
	cache   cache.Cache
	userTTL time.Duration
	logger  *observability.Logger
}

func NewGuard(tokens *TokenService, users UserSource, userCache cache.Cache, userTTL time.Duration, logger *observability.Logger) *Guard {
	if userTTL <= 0 {
		userTTL = time.Hour
	}
	return &Guard{
		tokens:  tokens,
		users:   users,
		cache:   userCache,
		userTTL: userTTL,
		logger:  logger,
	}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := BearerToken(r)
		if err != nil {
			// Absent and invalid tokens are logged apart even though both
			// answer 401.
			g.logger.Info("auth_missing_token", map[string]any{"path": r.URL.Path})
			writeGuardError(w, "missing authorization token")
			return
		}

		userID, err := g.tokens.Verify(r.Context(), tokenStr, TokenAccess)
		if err != nil {
			g.logger.Info("auth_rejected", map[string]any{
				"path":   r.URL.Path,
				"reason": guardReason(err),
			})
			writeGuardError(w, "invalid or expired token")
			return
		}

		user, err := g.resolveUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				writeGuardError(w, "invalid or expired token")
				return
			}
			g.logger.Error("auth_resolve_user_failed", map[string]any{"error": err.Error()})
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to authorize request"})
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// BearerToken extracts the token from the Authorization header. ErrNoToken
// means the header was absent; ErrMalformedToken means it wasn't a bearer
// credential.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedToken
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", ErrMalformedToken
	}

	return tokenStr, nil
}

func (g *Guard) resolveUser(ctx context.Context, userID string) (User, error) {
	key := userKeyPrefix + userID

	if cached, err := g.cache.Get(ctx, key); err == nil {
		var user User
		if jsonErr := json.Unmarshal([]byte(cached), &user); jsonErr == nil {
			return user, nil
		}
		// Undecodable entry: fall through to the database and rewrite it.
	} else if !errors.Is(err, cache.ErrMiss) {
		g.logger.Error("user_cache_read_failed", map[string]any{"error": err.Error()})
	}

	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}

	if encoded, err := json.Marshal(user); err == nil {
		if err := g.cache.Set(ctx, key, string(encoded), g.userTTL); err != nil {
			g.logger.Error("user_cache_write_failed", map[string]any{"error": err.Error()})
		}
	}

	return user, nil
}

func guardReason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrRevokedToken):
		return "revoked"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	default:
		return "error"
	}
}

func writeGuardError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": message})
}
