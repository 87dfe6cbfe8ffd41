package user

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/auth"
	"contacts-api/internal/cache"
	"contacts-api/internal/observability"
)

type fakeUploader struct {
	lastPublicID string
	url          string
	err          error
}

func (u *fakeUploader) UploadAvatar(ctx context.Context, imageSource, publicID string) (string, error) {
	u.lastPublicID = publicID
	if u.err != nil {
		return "", u.err
	}
	return u.url, nil
}

type fakeAvatarStore struct {
	user auth.User
}

func (s *fakeAvatarStore) UpdateAvatar(ctx context.Context, userID, avatarURL string) (auth.User, error) {
	if userID != s.user.ID {
		return auth.User{}, auth.ErrUserNotFound
	}
	s.user.AvatarURL = avatarURL
	return s.user, nil
}

func testUser() auth.User {
	return auth.User{ID: "user-1", Username: "alice", Email: "a@example.com"}
}

func withUser(req *http.Request, user auth.User) *http.Request {
	return req.WithContext(auth.ContextWithUser(req.Context(), user))
}

func TestMe_ReturnsAuthenticatedUser(t *testing.T) {
	t.Parallel()

	handler := NewHandler(nil, nil, cache.NewMemory(), observability.NewLogger())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), testUser())
	rec := httptest.NewRecorder()
	handler.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got auth.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "alice", got.Username)
	assert.NotContains(t, rec.Body.String(), "password", "hash must never leak")
}

func TestMe_NoUserInContext(t *testing.T) {
	t.Parallel()

	handler := NewHandler(nil, nil, cache.NewMemory(), observability.NewLogger())

	rec := httptest.NewRecorder()
	handler.Me(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// pngHeader is enough for content-type sniffing to call it an image.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func multipartBody(t *testing.T, fieldName, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+fileName+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestUpdateAvatar_UploadsAndUpdates(t *testing.T) {
	t.Parallel()

	uploader := &fakeUploader{url: "https://cdn.example.com/avatars/alice.png"}
	store := &fakeAvatarStore{user: testUser()}
	userCache := cache.NewMemory()
	handler := NewHandler(store, uploader, userCache, observability.NewLogger())

	ctx := context.Background()
	require.NoError(t, userCache.Set(ctx, "user:user-1", "stale", 0))

	body, contentType := multipartBody(t, "file", "avatar.png", "image/png", pngHeader)
	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req = withUser(req, testUser())

	rec := httptest.NewRecorder()
	handler.UpdateAvatar(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "avatars/alice", uploader.lastPublicID)

	var got auth.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uploader.url, got.AvatarURL)

	// The cached profile entry is invalidated so the next read sees the
	// new avatar.
	_, err := userCache.Get(ctx, "user:user-1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestUpdateAvatar_RejectsNonImage(t *testing.T) {
	t.Parallel()

	handler := NewHandler(&fakeAvatarStore{user: testUser()}, &fakeUploader{}, cache.NewMemory(), observability.NewLogger())

	body, contentType := multipartBody(t, "file", "notes.txt", "text/plain", []byte("plain text"))
	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req = withUser(req, testUser())

	rec := httptest.NewRecorder()
	handler.UpdateAvatar(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAvatar_MissingFile(t *testing.T) {
	t.Parallel()

	handler := NewHandler(&fakeAvatarStore{user: testUser()}, &fakeUploader{}, cache.NewMemory(), observability.NewLogger())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("other", "value"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req = withUser(req, testUser())

	rec := httptest.NewRecorder()
	handler.UpdateAvatar(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAvatar_EmptyFile(t *testing.T) {
	t.Parallel()

	handler := NewHandler(&fakeAvatarStore{user: testUser()}, &fakeUploader{}, cache.NewMemory(), observability.NewLogger())

	body, contentType := multipartBody(t, "file", "avatar.png", "image/png", nil)
	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req = withUser(req, testUser())

	rec := httptest.NewRecorder()
	handler.UpdateAvatar(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAvatar_UploaderFailure(t *testing.T) {
	t.Parallel()

	uploader := &fakeUploader{err: assert.AnError}
	handler := NewHandler(&fakeAvatarStore{user: testUser()}, uploader, cache.NewMemory(), observability.NewLogger())

	body, contentType := multipartBody(t, "file", "avatar.png", "image/png", pngHeader)
	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req = withUser(req, testUser())

	rec := httptest.NewRecorder()
	handler.UpdateAvatar(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpdateAvatar_UploaderNotConfigured(t *testing.T) {
	t.Parallel()

	handler := NewHandler(&fakeAvatarStore{user: testUser()}, nil, cache.NewMemory(), observability.NewLogger())

	req := withUser(httptest.NewRequest(http.MethodPatch, "/api/users/avatar", strings.NewReader("")), testUser())
	rec := httptest.NewRecorder()
	handler.UpdateAvatar(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
