package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// secretWarning accompanies every response that carries a plaintext secret.
const secretWarning = "Store this secret now. It cannot be retrieved again."

// KeyHandler serves the API key administration endpoints.
type KeyHandler struct {
	keys   *service.KeyService
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *service.KeyService, logger *slog.Logger) *KeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyHandler{keys: keys, logger: logger}
}

// createKeyRequest is the expected payload for Create.
type createKeyRequest struct {
	Label     string             `json:"label"`
	Quota     *model.QuotaPolicy `json:"quota,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// secretResponse is returned by Create and Rotate, the only responses that
// ever include the plaintext secret.
type secretResponse struct {
	Key     *model.APIKey `json:"key"`
	Secret  string        `json:"secret"`
	Warning string        `json:"warning"`
}

// updateKeyRequest is a partial update; absent fields are left alone.
type updateKeyRequest struct {
	Label       *string            `json:"label,omitempty"`
	State       *model.KeyState    `json:"state,omitempty"`
	Quota       *model.QuotaPolicy `json:"quota,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	ClearExpiry bool               `json:"clear_expiry,omitempty"`
}

// Create issues a new key and returns its secret once.
// POST /api/v1/admin/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidationError, "Invalid request body: "+err.Error())
		return
	}

	in := model.CreateKeyInput{Label: req.Label, ExpiresAt: req.ExpiresAt}
	if req.Quota != nil {
		in.Quota = *req.Quota
	}

	key, secret, err := h.keys.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, err, "API key")
		return
	}
	writeJSON(w, http.StatusCreated, secretResponse{Key: key, Secret: secret, Warning: secretWarning})
}

// List returns keys newest first, optionally filtered by ?state=.
// GET /api/v1/admin/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter model.KeyFilter
	if s := queryString(r, "state"); s != "" {
		state := model.KeyState(s)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, model.CodeValidationError, "state must be 'active' or 'inactive'")
			return
		}
		filter.State = &state
	}

	keys, err := h.keys.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "API keys")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// Get returns a single key.
// GET /api/v1/admin/keys/{keyId}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, h.logger, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Update changes label, state, quota or expiry.
// PATCH /api/v1/admin/keys/{keyId}
func (h *KeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidationError, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.keys.Update(r.Context(), chi.URLParam(r, "keyId"), model.KeyUpdate{
		Label:       req.Label,
		State:       req.State,
		Quota:       req.Quota,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Delete removes a key and its usage history.
// DELETE /api/v1/admin/keys/{keyId}
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")
	if err := h.keys.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// Rotate issues a new secret for an existing key.
// POST /api/v1/admin/keys/{keyId}/rotate
func (h *KeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	key, secret, err := h.keys.Rotate(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, h.logger, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, secretResponse{Key: key, Secret: secret, Warning: secretWarning})
}
