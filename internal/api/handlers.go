package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"secret.once/config"
	"secret.once/internal/coordinator"
	"secret.once/internal/models"
	"secret.once/internal/store"
)

// Handler translates HTTP requests into coordinator and store calls. It holds
// no state of its own and performs no business logic beyond translation.
type Handler struct {
	coord  *coordinator.Coordinator
	store  store.Store
	config *config.Config
	logger *zap.Logger
}

func NewHandler(coord *coordinator.Coordinator, st store.Store, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		coord:  coord,
		store:  st,
		config: cfg,
		logger: logger,
	}
}

type CreateRequest struct {
	Payload    string `json:"payload"`
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
}

type CreateResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ViewResponse struct {
	Status    models.DisclosureStatus `json:"status"`
	Payload   string                  `json:"payload,omitempty"`
	ViewedAt  *time.Time              `json:"viewed_at,omitempty"`
	AllowCopy bool                    `json:"allow_copy,omitempty"`
}

type StatusResponse struct {
	ID        string             `json:"id"`
	Exists    bool               `json:"exists"`
	State     models.SecretState `json:"state,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	viewerID := h.viewerID(r)
	if viewerID == "" {
		h.error(w, http.StatusUnauthorized, "viewer identity is required")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Payload == "" {
		h.error(w, http.StatusBadRequest, "payload is required")
		return
	}

	ttl := clampDuration(
		time.Duration(req.TTLMinutes)*time.Minute,
		h.config.Secrets.DefaultTTL,
		h.config.Secrets.MaxTTL,
	)

	now := time.Now()
	secret := &models.Secret{
		ID:        uuid.NewString(),
		Payload:   req.Payload,
		State:     models.StateUnviewed,
		CreatedBy: viewerID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := h.store.Create(r.Context(), secret); err != nil {
		h.logger.Error("failed to create secret", zap.Error(err))
		h.error(w, http.StatusServiceUnavailable, "failed to save secret")
		return
	}

	h.json(w, http.StatusCreated, CreateResponse{
		ID:        secret.ID,
		ExpiresAt: secret.ExpiresAt,
	})
}

// ViewSecret is the single idempotent disclosure call. Retrying it after a
// lost response is always safe: the first reveal is final and every later
// call maps to a non-secret status.
func (h *Handler) ViewSecret(w http.ResponseWriter, r *http.Request) {
	viewerID := h.viewerID(r)
	if viewerID == "" {
		h.error(w, http.StatusUnauthorized, "viewer identity is required")
		return
	}

	id := chi.URLParam(r, "id")

	disclosure, err := h.coord.View(r.Context(), id, viewerID, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.error(w, http.StatusServiceUnavailable, "temporary conflict, retry")
			return
		}
		h.logger.Error("view failed", zap.String("secret_id", id), zap.Error(err))
		h.error(w, http.StatusServiceUnavailable, "storage unavailable, retry")
		return
	}

	resp := ViewResponse{Status: disclosure.Status}
	if !disclosure.ViewedAt.IsZero() {
		viewedAt := disclosure.ViewedAt
		resp.ViewedAt = &viewedAt
	}

	switch disclosure.Status {
	case models.StatusRevealed:
		resp.Payload = disclosure.Payload
		resp.AllowCopy = h.config.Secrets.AllowCopy
		h.json(w, http.StatusOK, resp)
	case models.StatusAlreadyViewed:
		h.json(w, http.StatusOK, resp)
	case models.StatusExpired:
		h.json(w, http.StatusGone, resp)
	case models.StatusNotFound:
		h.json(w, http.StatusNotFound, resp)
	default:
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

// GetStatus is a non-revealing probe: it never returns the payload and never
// mutates the secret, so the presentation layer can poll it freely.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	secret, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.json(w, http.StatusOK, StatusResponse{ID: id, Exists: false})
			return
		}
		h.logger.Error("status lookup failed", zap.String("secret_id", id), zap.Error(err))
		h.error(w, http.StatusServiceUnavailable, "storage unavailable, retry")
		return
	}

	state := secret.State
	if state == models.StateUnviewed && secret.ExpiredAt(time.Now()) {
		// Report what the next View call will decide, without deciding it.
		state = models.StateExpired
	}

	resp := StatusResponse{ID: id, Exists: true, State: state}
	if secret.Expires() {
		expiresAt := secret.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	h.json(w, http.StatusOK, resp)
}

func (h *Handler) viewerID(r *http.Request) string {
	return r.Header.Get(h.config.Server.ViewerHeader)
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func clampDuration(val, defaultVal, maxVal time.Duration) time.Duration {
	if val <= 0 {
		return defaultVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
