package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/queue"
	"agentprobe_api/internal/utils"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	healthCheckTimeout = 5 * time.Second

	maxDeadLetterItems = 100
)

// OpsHandler serves health, service discovery and maintenance routes.
type OpsHandler struct {
	deps *Dependencies
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Timestamp   string            `json:"timestamp"`
	Uptime      float64           `json:"uptime"` // seconds
	Checks      map[string]string `json:"checks"`
	Stats       HealthStats       `json:"stats"`
}

// HealthStats summarizes the stored data.
type HealthStats struct {
	TotalResults   int     `json:"total_results"`
	TotalTools     int     `json:"total_tools"`
	TotalScenarios int     `json:"total_scenarios"`
	LastSubmission *string `json:"last_submission"`
}

// Health handles GET /health. Any failing dependency turns the response into a 503.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	deps := h.deps
	resp := HealthResponse{
		Status:      statusHealthy,
		Version:     serviceVersion,
		Environment: deps.Config.Environment,
		Timestamp:   deps.Clock.Now().UTC().Format(time.RFC3339),
		Uptime:      deps.Clock.Now().Sub(deps.startedAt).Seconds(),
		Checks:      map[string]string{"api": statusHealthy, "database": statusHealthy},
	}

	if err := deps.DB.Health(ctx); err != nil {
		resp.Checks["database"] = statusUnhealthy
	} else if counts, err := deps.Stats.Counts(ctx); err != nil {
		resp.Checks["database"] = statusUnhealthy
	} else {
		resp.Stats = HealthStats{
			TotalResults:   counts.TotalResults,
			TotalTools:     counts.TotalTools,
			TotalScenarios: counts.TotalScenarios,
		}
		if counts.LastSubmission != nil {
			last := counts.LastSubmission.UTC().Format(time.RFC3339)
			resp.Stats.LastSubmission = &last
		}
	}

	if deps.Redis != nil {
		resp.Checks["redis"] = statusHealthy
		if err := deps.Redis.Health(ctx); err != nil {
			resp.Checks["redis"] = statusUnhealthy
		}
	}

	code := http.StatusOK
	for _, check := range resp.Checks {
		if check != statusHealthy {
			resp.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
		}
	}

	utils.RespondWithJSON(w, code, resp)
}

// Root handles GET / with a description of the service and its routes.
func (h *OpsHandler) Root(w http.ResponseWriter, r *http.Request) {
	permissions := make(map[string]string, len(auth.AllPermissions))
	for _, p := range auth.AllPermissions {
		permissions[p.String()] = permissionDescriptions[p]
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"name":        serviceName,
		"version":     serviceVersion,
		"environment": h.deps.Config.Environment,
		"authentication": map[string]interface{}{
			"required": true,
			"type":     "API Key",
			"header":   "Authorization: Bearer <api_key> or X-API-Key: <api_key>",
		},
		"endpoints": map[string]interface{}{
			"health": "/health",
			"auth": map[string]string{
				"create_key":       "POST /api/v1/auth/keys (admin)",
				"list_keys":        "GET /api/v1/auth/keys (manage_keys)",
				"get_key":          "GET /api/v1/auth/keys/{keyId} (manage_keys)",
				"update_key":       "PUT /api/v1/auth/keys/{keyId} (manage_keys)",
				"deactivate_key":   "DELETE /api/v1/auth/keys/{keyId} (manage_keys)",
				"reactivate_key":   "POST /api/v1/auth/keys/{keyId}/reactivate (manage_keys)",
				"reset_rate_limit": "POST /api/v1/auth/keys/{keyId}/rate-limit/reset (admin)",
				"rate_limit":       "GET /api/v1/auth/rate-limit (read)",
				"security_events":  "GET /api/v1/auth/security-events (admin)",
			},
			"data": map[string]string{
				"submit_result":       "POST /api/v1/results (write)",
				"batch_submit":        "POST /api/v1/results/batch (write)",
				"query_results":       "GET /api/v1/results (read)",
				"tool_stats":          "GET /api/v1/stats/tool/{tool} (read)",
				"scenario_stats":      "GET /api/v1/stats/scenario/{tool}/{scenario} (read)",
				"leaderboard":         "GET /api/v1/leaderboard (read)",
				"aggregate_stats":     "GET /api/v1/stats/aggregate (read)",
				"tool_comparison":     "POST /api/v1/compare/tools (read)",
				"scenario_difficulty": "GET /api/v1/scenarios/difficulty (read)",
				"export_data":         "POST /api/v1/export (read)",
			},
			"internal": map[string]string{
				"cleanup":              "GET /api/v1/internal/cleanup (admin)",
				"security_queue":       "GET /api/v1/internal/security-queue (admin)",
				"retry_security_event": "POST /api/v1/internal/security-queue/dead-letter/{id}/retry (admin)",
			},
		},
		"permissions": permissions,
	})
}

var permissionDescriptions = map[auth.Permission]string{
	auth.PermissionRead:       "Access to view data and statistics",
	auth.PermissionWrite:      "Access to submit test results",
	auth.PermissionAdmin:      "Full administrative access",
	auth.PermissionManageKeys: "Manage API keys",
}

// Cleanup handles GET /api/v1/internal/cleanup by running one maintenance pass.
func (h *OpsHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report := h.deps.Cleanup.RunOnce(r.Context())
	if report.Failed() {
		utils.RespondWithErrorCode(w, r, http.StatusInternalServerError, "Internal server error", "Cleanup failed", "CLEANUP_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, report, "Cleanup completed")
}

// SecurityQueueStatus is the body of GET /api/v1/internal/security-queue.
type SecurityQueueStatus struct {
	QueueLength int                                           `json:"queue_length"`
	DeadLetters []queue.DeadLetterItem[*models.SecurityEvent] `json:"dead_letters"`
}

// SecurityQueue reports the async audit backlog and its dead letters.
func (h *OpsHandler) SecurityQueue(w http.ResponseWriter, r *http.Request) {
	worker := h.deps.SecurityWorker
	if worker == nil {
		respondQueueDisabled(w, r)
		return
	}

	length, err := worker.QueueLength(r.Context())
	if err != nil {
		utils.RespondWithAppError(w, r, utils.NewPersistenceError("SECURITY_QUEUE_ERROR", "Failed to read security event queue", err), "SECURITY_QUEUE_ERROR")
		return
	}
	items, err := worker.DeadLetterItems(r.Context(), maxDeadLetterItems)
	if err != nil {
		utils.RespondWithAppError(w, r, utils.NewPersistenceError("SECURITY_QUEUE_ERROR", "Failed to read dead letter queue", err), "SECURITY_QUEUE_ERROR")
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem[*models.SecurityEvent]{}
	}

	utils.RespondWithSuccess(w, http.StatusOK, SecurityQueueStatus{QueueLength: length, DeadLetters: items}, "")
}

// RetryDeadLetter puts one dead-lettered security event back on the queue.
func (h *OpsHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	worker := h.deps.SecurityWorker
	if worker == nil {
		respondQueueDisabled(w, r)
		return
	}

	id := r.PathValue("id")
	err := worker.RetryDeadLetterItem(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrItemNotFound):
		utils.RespondWithAppError(w, r, utils.NewNotFoundError("DEAD_LETTER_NOT_FOUND", "The specified dead letter item was not found"), "DEAD_LETTER_NOT_FOUND")
		return
	case err != nil:
		utils.RespondWithAppError(w, r, utils.NewPersistenceError("SECURITY_QUEUE_ERROR", "Failed to retry dead letter item", err), "SECURITY_QUEUE_ERROR")
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, map[string]string{"id": id}, "Security event requeued")
}

func respondQueueDisabled(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithAppError(w, r, utils.NewNotFoundError("SECURITY_QUEUE_DISABLED", "Security events are written synchronously"), "SECURITY_QUEUE_DISABLED")
}
