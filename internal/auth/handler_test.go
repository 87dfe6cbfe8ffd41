package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/cache"
	"contacts-api/internal/observability"
)

// newAuthMux wires handlers and guard the way app.Build does, against
// in-memory backends.
func newAuthMux(t *testing.T) (*http.ServeMux, serviceFixture) {
	t.Helper()

	f := newServiceFixture(t)
	handler := NewHandler(f.service)
	guard := NewGuard(f.tokens, f.store, cache.NewMemory(), time.Hour, observability.NewLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", handler.Register)
	mux.HandleFunc("POST /api/auth/login", handler.Login)
	mux.HandleFunc("POST /api/auth/refresh", handler.Refresh)
	mux.Handle("POST /api/auth/logout", guard.Middleware(http.HandlerFunc(handler.Logout)))
	mux.HandleFunc("GET /api/auth/verify/{token}", handler.VerifyEmail)
	mux.HandleFunc("POST /api/auth/password-reset/request", handler.RequestPasswordReset)
	mux.HandleFunc("POST /api/auth/password-reset/confirm", handler.ConfirmPasswordReset)
	mux.Handle("GET /api/protected", guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	return mux, f
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_RegisterLoginLogoutScenario(t *testing.T) {
	t.Parallel()

	mux, _ := newAuthMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice",
		"email":    "a@example.com",
		"password": "pw123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "a@example.com",
		"password": "pw123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens Tokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)

	bearer := map[string]string{"Authorization": "Bearer " + tokens.AccessToken}

	rec = doJSON(t, mux, http.MethodGet, "/api/protected", nil, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/logout", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, bearer)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// The revoked access token no longer opens the protected endpoint.
	rec = doJSON(t, mux, http.MethodGet, "/api/protected", nil, bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_RegisterValidation(t *testing.T) {
	t.Parallel()

	mux, _ := newAuthMux(t)

	cases := []map[string]string{
		{"username": "x", "email": "a@example.com", "password": "pw123"},
		{"username": "alice", "email": "not-an-email", "password": "pw123"},
		{"username": "alice", "email": "a@example.com", "password": ""},
	}
	for i, body := range cases {
		rec := doJSON(t, mux, http.MethodPost, "/api/auth/register", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d: %s", i, rec.Body.String())
	}
}

func TestHandlers_RegisterDuplicateConflict(t *testing.T) {
	t.Parallel()

	mux, _ := newAuthMux(t)

	body := map[string]string{"username": "alice", "email": "a@example.com", "password": "pw123"}
	rec := doJSON(t, mux, http.MethodPost, "/api/auth/register", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/register", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_LoginFailures(t *testing.T) {
	t.Parallel()

	mux, _ := newAuthMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "pw123",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/login", map[string]string{"unknown": "field"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_LoginLockedSetsRetryAfter(t *testing.T) {
	t.Parallel()

	mux, f := newAuthMux(t)
	f.service.WithSecurityConfig(2, 15*time.Minute, 0)

	rec := doJSON(t, mux, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "email": "a@example.com", "password": "pw123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	bad := map[string]string{"email": "a@example.com", "password": "wrong"}
	rec = doJSON(t, mux, http.MethodPost, "/api/auth/login", bad, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/login", bad, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandlers_RefreshInvalidToken(t *testing.T) {
	t.Parallel()

	mux, _ := newAuthMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": "bogus",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_VerifyEmail(t *testing.T) {
	t.Parallel()

	mux, f := newAuthMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "email": "a@example.com", "password": "pw123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.notifier.verifyTokens, 1)

	rec = doJSON(t, mux, http.MethodGet, "/api/auth/verify/"+f.notifier.verifyTokens[0], nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, http.MethodGet, "/api/auth/verify/bogus-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_PasswordResetEndpoints(t *testing.T) {
	t.Parallel()

	mux, f := newAuthMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "email": "a@example.com", "password": "pw123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same answer for known and unknown emails.
	for _, email := range []string{"a@example.com", "ghost@example.com"} {
		rec = doJSON(t, mux, http.MethodPost, "/api/auth/password-reset/request", map[string]string{
			"email": email,
		}, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code, email)
	}
	require.Len(t, f.notifier.resetTokens, 1)

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/password-reset/confirm", map[string]string{
		"token":    f.notifier.lastReset(),
		"password": "new-password",
	}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "a@example.com", "password": "new-password",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_InvalidJSONBody(t *testing.T) {
	t.Parallel()

	mux, _ := newAuthMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%q", "invalid json body"))
}
