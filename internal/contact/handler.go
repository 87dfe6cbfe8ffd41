package contact

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"contacts-api/internal/auth"
	"contacts-api/internal/cache"
	"contacts-api/internal/observability"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxListLimit     = 100

	cacheKeyPrefix = "contact:"
)

// Store is the persistence contract the handlers work against; Repository
// implements it on Postgres.
type Store interface {
	List(ctx context.Context, ownerID string, f Filter) ([]Contact, error)
	GetByID(ctx context.Context, ownerID, id string) (Contact, error)
	Create(ctx context.Context, ownerID string, input Input) (Contact, error)
	Update(ctx context.Context, ownerID, id string, input Input) (Contact, error)
	Delete(ctx context.Context, ownerID, id string) error
	UpcomingBirthdays(ctx context.Context, ownerID string, days int) ([]Contact, error)
}

type Handler struct {
	store    Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *observability.Logger
}

func NewHandler(store Store, contactCache cache.Cache, cacheTTL time.Duration, logger *observability.Logger) *Handler {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Handler{
		store:    store,
		cache:    contactCache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	query := r.URL.Query()
	filter := Filter{
		Skip:    queryInt(query.Get("skip"), 0),
		Limit:   queryInt(query.Get("limit"), 10),
		Name:    strings.TrimSpace(query.Get("name")),
		Surname: strings.TrimSpace(query.Get("surname")),
		Email:   strings.TrimSpace(query.Get("email")),
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	contacts, err := h.store.List(r.Context(), user.ID, filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	if c, ok := h.cachedContact(r.Context(), id, user.ID); ok {
		writeJSON(w, http.StatusOK, c)
		return
	}

	c, err := h.store.GetByID(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get contact")
		return
	}

	h.primeCache(r.Context(), c)
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	c, err := h.store.Create(r.Context(), user.ID, input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	h.primeCache(r.Context(), c)
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	c, err := h.store.Update(r.Context(), user.ID, id, input)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update contact")
		return
	}

	h.primeCache(r.Context(), c)
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	if err := h.store.Delete(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete contact")
		return
	}

	if err := h.cache.Del(r.Context(), cacheKeyPrefix+id); err != nil {
		h.logger.Error("contact_cache_delete_failed", map[string]any{"error": err.Error()})
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpcomingBirthdays(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	days := queryInt(r.URL.Query().Get("days"), 7)
	if days > 366 {
		writeError(w, http.StatusBadRequest, "days must be at most 366")
		return
	}

	contacts, err := h.store.UpcomingBirthdays(r.Context(), user.ID, days)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list upcoming birthdays")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// cachedContact returns the cached copy only when it belongs to the caller;
// the cache is keyed by contact id and shared across users.
func (h *Handler) cachedContact(ctx context.Context, id, ownerID string) (Contact, bool) {
	cached, err := h.cache.Get(ctx, cacheKeyPrefix+id)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			h.logger.Error("contact_cache_read_failed", map[string]any{"error": err.Error()})
		}
		return Contact{}, false
	}

	var c Contact
	if err := json.Unmarshal([]byte(cached), &cachedContactEnvelope{&c}); err != nil {
		return Contact{}, false
	}
	if c.UserID != ownerID {
		return Contact{}, false
	}

	return c, true
}

func (h *Handler) primeCache(ctx context.Context, c Contact) {
	encoded, err := json.Marshal(cachedContactEnvelope{&c})
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, cacheKeyPrefix+c.ID, string(encoded), h.cacheTTL); err != nil {
		h.logger.Error("contact_cache_write_failed", map[string]any{"error": err.Error()})
	}
}

// cachedContactEnvelope carries UserID into the cache even though the API
// representation of Contact hides it.
type cachedContactEnvelope struct {
	*Contact
}

func (e cachedContactEnvelope) MarshalJSON() ([]byte, error) {
	type alias Contact
	return json.Marshal(struct {
		alias
		UserID string `json:"user_id"`
	}{alias(*e.Contact), e.Contact.UserID})
}

func (e *cachedContactEnvelope) UnmarshalJSON(data []byte) error {
	type alias Contact
	var decoded struct {
		alias
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*e.Contact = Contact(decoded.alias)
	e.Contact.UserID = decoded.UserID
	return nil
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return Input{}, false
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Surname = strings.TrimSpace(input.Surname)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	input.Birthday = strings.TrimSpace(input.Birthday)
	input.AdditionalInfo = strings.TrimSpace(input.AdditionalInfo)

	if input.Name == "" || !utf8.ValidString(input.Name) || len(input.Name) > 50 {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return Input{}, false
	}
	if input.Surname == "" || !utf8.ValidString(input.Surname) || len(input.Surname) > 50 {
		writeError(w, http.StatusBadRequest, "surname is invalid")
		return Input{}, false
	}
	if input.Email == "" || len(input.Email) > 50 {
		writeError(w, http.StatusBadRequest, "email is invalid")
		return Input{}, false
	}
	if input.Phone == "" || len(input.Phone) > 15 {
		writeError(w, http.StatusBadRequest, "phone is invalid")
		return Input{}, false
	}
	if _, err := time.Parse("2006-01-02", input.Birthday); err != nil {
		writeError(w, http.StatusBadRequest, "birthday must be YYYY-MM-DD")
		return Input{}, false
	}
	if !utf8.ValidString(input.AdditionalInfo) || len(input.AdditionalInfo) > 255 {
		writeError(w, http.StatusBadRequest, "additional_info is invalid")
		return Input{}, false
	}

	return input, true
}

func queryInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
