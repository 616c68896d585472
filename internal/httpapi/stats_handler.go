package httpapi

import (
	"net/http"

	"agentprobe_api/internal/stats"
	"agentprobe_api/internal/utils"
)

// StatsHandler serves the read-only statistics routes.
type StatsHandler struct {
	stats *stats.Aggregator
}

// Leaderboard handles GET /api/v1/leaderboard
func (h *StatsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.stats.Leaderboard(r.Context())
	if err != nil {
		utils.RespondWithAppError(w, r, err, "LEADERBOARD_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, entries, "Leaderboard retrieved successfully")
}

// Aggregate handles GET /api/v1/stats/aggregate
func (h *StatsHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := stats.AggregateRequest{
		Period:    q.Get("period"),
		Tool:      q.Get("tool"),
		Scenario:  q.Get("scenario"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}

	agg, err := h.stats.Aggregate(r.Context(), req)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "AGGREGATE_STATS_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, agg, "Aggregate statistics retrieved successfully")
}

// CompareTools handles POST /api/v1/compare/tools
func (h *StatsHandler) CompareTools(w http.ResponseWriter, r *http.Request) {
	var req stats.CompareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cmp, err := h.stats.Compare(r.Context(), req)
	if err != nil {
		utils.RespondWithAppError(w, r, err, "TOOL_COMPARISON_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, cmp, "Tool comparison completed successfully")
}

// Difficulty handles GET /api/v1/scenarios/difficulty
func (h *StatsHandler) Difficulty(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.stats.Difficulty(r.Context())
	if err != nil {
		utils.RespondWithAppError(w, r, err, "DIFFICULTY_RANKING_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, ranking, "Scenario difficulty rankings retrieved successfully")
}

// Tool handles GET /api/v1/stats/tool/{tool}
func (h *StatsHandler) Tool(w http.ResponseWriter, r *http.Request) {
	report, err := h.stats.ToolStats(r.Context(), r.PathValue("tool"))
	if err != nil {
		utils.RespondWithAppError(w, r, err, "TOOL_STATS_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, report, "Tool statistics retrieved successfully")
}

// Scenario handles GET /api/v1/stats/scenario/{tool}/{scenario}
func (h *StatsHandler) Scenario(w http.ResponseWriter, r *http.Request) {
	report, err := h.stats.ScenarioStats(r.Context(), r.PathValue("tool"), r.PathValue("scenario"))
	if err != nil {
		utils.RespondWithAppError(w, r, err, "SCENARIO_STATS_ERROR")
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, report, "Scenario statistics retrieved successfully")
}
