package httpapi

import (
	"context"
	"net/http"
	"time"

	"agentprobe_api/internal/middleware"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/ratelimit"
	"agentprobe_api/internal/registry"
	"agentprobe_api/internal/security"
	"agentprobe_api/internal/utils"
)

type rateLimiter interface {
	Status(ctx context.Context, keyID string, limit int) ratelimit.Status
	Reset(ctx context.Context, keyID string) error
}

type auditLog interface {
	Query(ctx context.Context, filter models.SecurityEventFilter, requesterKeyID string, client security.ClientInfo) ([]*models.SecurityEvent, error)
}

// KeysHandler handles API key management, rate limit status and the audit log.
type KeysHandler struct {
	registry *registry.Registry
	limiter  rateLimiter
	events   auditLog
}

// UpdateKeyRequest is a partial update. An empty expiresAt clears the expiry.
type UpdateKeyRequest struct {
	Name        *string  `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	RateLimit   *int     `json:"rateLimit,omitempty"`
	ExpiresAt   *string  `json:"expiresAt,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
}

type keyRef struct {
	KeyID string `json:"keyId"`
}

// Create handles POST /api/v1/auth/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	createdBy := ""
	if identity, ok := middleware.GetIdentity(r.Context()); ok {
		createdBy = identity.KeyID
	}

	created, err := h.registry.Create(r.Context(), req, createdBy)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "API_KEY_CREATION_ERROR")
		return
	}

	utils.RespondWithSuccess(w, http.StatusCreated, created, "API key created successfully")
}

// List handles GET /api/v1/auth/keys. Only active keys are listed unless active=false.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"

	keys, err := h.registry.List(r.Context(), activeOnly)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "API_KEY_LIST_ERROR")
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, keys, "API keys retrieved successfully")
}

// Get handles GET /api/v1/auth/keys/{keyId}
func (h *KeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Get(r.Context(), r.PathValue("keyId"))
	if err != nil {
		utils.RespondWithAppError(w, r, err, "API_KEY_GET_ERROR")
		return
	}
	if info == nil {
		respondKeyNotFound(w, r)
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, info, "API key details retrieved successfully")
}

// Update handles PUT /api/v1/auth/keys/{keyId}
func (h *KeysHandler) Update(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("keyId")

	var req UpdateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	update := registry.UpdateRequest{
		Name:        req.Name,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit,
		IsActive:    req.IsActive,
	}
	if req.ExpiresAt != nil {
		if *req.ExpiresAt == "" {
			update.ClearExpiry = true
		} else {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				utils.RespondWithErrorCode(w, r, http.StatusBadRequest, "Validation failed",
					"expiresAt must be an RFC3339 timestamp", "INVALID_EXPIRATION")
				return
			}
			update.ExpiresAt = &t
		}
	}

	changed, err := h.registry.Update(r.Context(), keyID, update)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "API_KEY_UPDATE_ERROR")
		return
	}
	if !changed {
		utils.RespondWithErrorCode(w, r, http.StatusBadRequest, "Validation failed", "No updates provided", "NO_UPDATES")
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, keyRef{KeyID: keyID}, "API key updated successfully")
}

// Delete handles DELETE /api/v1/auth/keys/{keyId}. The key is deactivated
// unless permanent=true, which removes it.
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("keyId")

	if r.URL.Query().Get("permanent") == "true" {
		if err := h.registry.Delete(r.Context(), keyID); err != nil {
			utils.RespondWithAppError(w, r, err, "API_KEY_DELETE_ERROR")
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, keyRef{KeyID: keyID}, "API key deleted successfully")
		return
	}

	if _, err := h.registry.Deactivate(r.Context(), keyID); err != nil {
		utils.RespondWithAppError(w, r, err, "API_KEY_DEACTIVATE_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, keyRef{KeyID: keyID}, "API key deactivated successfully")
}

// Reactivate handles POST /api/v1/auth/keys/{keyId}/reactivate
func (h *KeysHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("keyId")

	if _, err := h.registry.Reactivate(r.Context(), keyID); err != nil {
		utils.RespondWithAppError(w, r, err, "API_KEY_REACTIVATE_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, keyRef{KeyID: keyID}, "API key reactivated successfully")
}

// ResetRateLimit handles POST /api/v1/auth/keys/{keyId}/rate-limit/reset
func (h *KeysHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("keyId")

	info, err := h.registry.Get(r.Context(), keyID)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "RATE_LIMIT_RESET_ERROR")
		return
	}
	if info == nil {
		respondKeyNotFound(w, r)
		return
	}
	if err := h.limiter.Reset(r.Context(), keyID); err != nil {
		utils.RespondWithErrorCode(w, r, http.StatusInternalServerError, "Internal server error",
			"Failed to reset rate limit", "RATE_LIMIT_RESET_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, keyRef{KeyID: keyID}, "Rate limit reset successfully")
}

// RateLimitStatus handles GET /api/v1/auth/rate-limit for the calling key
func (h *KeysHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok || !identity.Authenticated {
		utils.RespondWithErrorCode(w, r, http.StatusUnauthorized, "Authentication required",
			"API key is required", "AUTH_MISSING")
		return
	}

	status := h.limiter.Status(r.Context(), identity.KeyID, identity.RateLimit)
	utils.RespondWithSuccess(w, http.StatusOK, status, "Rate limit status retrieved successfully")
}

// SecurityEvents handles GET /api/v1/auth/security-events
func (h *KeysHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := security.ParseQuery(q.Get("limit"), q.Get("offset"), q.Get("event_type"))
	if err != nil {
		utils.RespondWithAppError(w, r, err, "SECURITY_EVENTS_ERROR")
		return
	}

	requester := ""
	if identity, ok := middleware.GetIdentity(r.Context()); ok {
		requester = identity.KeyID
	}

	events, err := h.events.Query(r.Context(), filter, requester, middleware.ClientInfo(r))
	if err != nil {
		utils.RespondWithAppError(w, r, err, "SECURITY_EVENTS_ERROR")
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	utils.RespondWithSuccess(w, http.StatusOK, events, "Security events retrieved successfully")
}

func respondKeyNotFound(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithAppError(w, r, utils.NewNotFoundError("API_KEY_NOT_FOUND", "The specified API key was not found"), "API_KEY_NOT_FOUND")
}
