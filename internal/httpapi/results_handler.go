package httpapi

import (
	"net/http"

	"agentprobe_api/internal/stats"
	"agentprobe_api/internal/utils"
)

// ResultsHandler accepts and lists test run results.
type ResultsHandler struct {
	stats *stats.Aggregator
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit handles POST /api/v1/results
func (h *ResultsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub stats.Submission
	if !decodeJSON(w, r, &sub) {
		return
	}

	id, err := h.stats.Submit(r.Context(), sub)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "SUBMISSION_ERROR")
		return
	}

	utils.RespondWithSuccess(w, http.StatusCreated, submitResponse{ID: id}, "Result submitted successfully")
}

// SubmitBatch handles POST /api/v1/results/batch. The status code follows
// the batch outcome: 200, 207 or 400.
func (h *ResultsHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req stats.BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Results) == 0 {
		utils.RespondWithErrorCode(w, r, http.StatusBadRequest, "Validation failed",
			"results must contain at least one submission", "INVALID_BATCH")
		return
	}

	result := h.stats.SubmitBatch(r.Context(), req)
	utils.RespondWithSuccess(w, result.HTTPStatus(), result, "Batch processing completed")
}

// List handles GET /api/v1/results
func (h *ResultsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := stats.ParseResultQuery(q.Get("tool"), q.Get("scenario"), q.Get("success"), q.Get("limit"), q.Get("offset"))

	results, err := h.stats.Results(r.Context(), query)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "QUERY_ERROR")
		return
	}

	utils.RespondWithSuccess(w, http.StatusOK, results, "Results retrieved successfully")
}
