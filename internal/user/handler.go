// Package user exposes the current-user endpoints: profile read and avatar
// upload.
package user

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"contacts-api/internal/auth"
	"contacts-api/internal/cache"
	"contacts-api/internal/observability"
)

const maxAvatarSizeBytes = 10 << 20

// AvatarUploader stores an avatar image under a stable public id and
// returns its URL.
type AvatarUploader interface {
	UploadAvatar(ctx context.Context, imageSource, publicID string) (string, error)
}

// AvatarStore persists the new avatar URL on the user row.
type AvatarStore interface {
	UpdateAvatar(ctx context.Context, userID, avatarURL string) (auth.User, error)
}

type Handler struct {
	store    AvatarStore
	uploader AvatarUploader
	cache    cache.Cache
	logger   *observability.Logger
}

func NewHandler(store AvatarStore, uploader AvatarUploader, userCache cache.Cache, logger *observability.Logger) *Handler {
	return &Handler{
		store:    store,
		uploader: uploader,
		cache:    userCache,
		logger:   logger,
	}
}

// Me returns the authenticated user the guard resolved.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "avatar uploader is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAvatarSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}
	if len(data) > maxAvatarSizeBytes {
		writeError(w, http.StatusBadRequest, "file is too large")
		return
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadRequest, "file must be an image")
		return
	}

	imageSource := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	// The username as public id makes re-uploads replace the previous avatar.
	avatarURL, err := h.uploader.UploadAvatar(r.Context(), imageSource, "avatars/"+user.Username)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload avatar")
		return
	}

	updated, err := h.store.UpdateAvatar(r.Context(), user.ID, avatarURL)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update avatar")
		return
	}

	if err := h.cache.Del(r.Context(), "user:"+user.ID); err != nil {
		h.logger.Error("user_cache_delete_failed", map[string]any{"error": err.Error()})
	}

	writeJSON(w, http.StatusOK, updated)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
