package maintenance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/auth"
	"contacts-api/internal/observability"
)

type fakeCleaner struct {
	result auth.CleanupResult
	err    error
	calls  int
}

func (c *fakeCleaner) CleanupStaleAuthData(ctx context.Context, refreshRetention, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error) {
	c.calls++
	return c.result, c.err
}

func newCleanupHandler(cleaner AuthCleaner, secret string) *CleanupHandler {
	return NewCleanupHandler(cleaner, observability.NewLogger(), secret, 30*24*time.Hour, 24*time.Hour, 500)
}

func request(secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	return req
}

func TestCleanup_NoSecretConfigured(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{}
	handler := newCleanupHandler(cleaner, "")

	rec := httptest.NewRecorder()
	handler.Handle(rec, request("anything"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, cleaner.calls)
}

func TestCleanup_WrongSecret(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{}
	handler := newCleanupHandler(cleaner, "cron-secret")

	rec := httptest.NewRecorder()
	handler.Handle(rec, request("wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.Handle(rec, request(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, cleaner.calls)
}

func TestCleanup_RunsWithValidSecret(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{result: auth.CleanupResult{DeletedRefreshTokens: 12, DeletedLoginAttempts: 3}}
	handler := newCleanupHandler(cleaner, "cron-secret")

	rec := httptest.NewRecorder()
	handler.Handle(rec, request("cron-secret"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, cleaner.calls)
	assert.Contains(t, rec.Body.String(), `"deleted_refresh_tokens":12`)
}

func TestCleanup_CleanerFailure(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{err: assert.AnError}
	handler := newCleanupHandler(cleaner, "cron-secret")

	rec := httptest.NewRecorder()
	handler.Handle(rec, request("cron-secret"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
