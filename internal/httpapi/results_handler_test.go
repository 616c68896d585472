package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/models"
	"agentprobe_api/internal/stats"
)

func TestSubmitResultRoute(t *testing.T) {
	s := newTestServer(t)
	writer := s.createKey(t, "writer", []string{"write"}, 1000)

	body := submission("git", "status", now.Add(-time.Hour), true, 12.5, "", "pager")
	rec := s.do(t, http.MethodPost, "/api/v1/results", writer.SecretKey, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var data struct {
		ID string `json:"id"`
	}
	env := decodeEnvelope(t, rec, &data)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, body["run_id"], data.ID)

	rec = s.do(t, http.MethodPost, "/api/v1/results", writer.SecretKey, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_RUN_ID", decodeEnvelope(t, rec, nil).Code)

	bad := submission("git", "status", now, true, 0, "")
	rec = s.do(t, http.MethodPost, "/api/v1/results", writer.SecretKey, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec, nil).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/results", writer.SecretKey, "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeEnvelope(t, rec, nil).Code)
}

func TestSubmitBatchRoute(t *testing.T) {
	s := newTestServer(t)
	writer := s.createKey(t, "writer", []string{"write"}, 1000)

	good := submission("npm", "install", now.Add(-time.Hour), true, 20, "")

	tests := []struct {
		name      string
		body      map[string]interface{}
		status    int
		outcome   string
		processed int
		failed    int
	}{
		{
			name: "all stored",
			body: map[string]interface{}{
				"results":  []interface{}{good, submission("npm", "install", now.Add(-time.Hour), false, 5, "Timeout: hung")},
				"metadata": map[string]string{"batch_id": "nightly-42", "source": "ci"},
			},
			status: http.StatusOK, outcome: "success", processed: 2,
		},
		{
			name: "some stored",
			body: map[string]interface{}{
				"results": []interface{}{good, submission("npm", "audit", now.Add(-time.Hour), true, 8, "")},
			},
			status: http.StatusMultiStatus, outcome: "partial", processed: 1, failed: 1,
		},
		{
			name: "none stored",
			body: map[string]interface{}{
				"results": []interface{}{good, map[string]interface{}{"run_id": "nope"}},
			},
			status: http.StatusBadRequest, outcome: "error", failed: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/results/batch", writer.SecretKey, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var result stats.BatchResult
			env := decodeEnvelope(t, rec, &result)
			assert.Equal(t, "Batch processing completed", env.Message)
			assert.Equal(t, tt.outcome, result.Status)
			assert.Equal(t, tt.processed, result.Processed)
			assert.Equal(t, tt.failed, result.Failed)
			assert.Len(t, result.Errors, tt.failed)
			assert.NotEmpty(t, result.BatchID)
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/results/batch", writer.SecretKey, map[string]interface{}{"results": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BATCH", decodeEnvelope(t, rec, nil).Code)
}

// seedRuns stores git/status x6 (4 passing), npm/install x3 and one cargo run.
func seedRuns(t *testing.T, s *testServer, key string) {
	t.Helper()
	ts := now.Add(-2 * time.Hour)
	bodies := []map[string]interface{}{
		submission("git", "status", ts, true, 10, "", "pager"),
		submission("git", "status", ts, true, 20, "", "pager", "flags"),
		submission("git", "status", ts, true, 30, ""),
		submission("git", "status", ts, true, 40, ""),
		submission("git", "status", ts, false, 50, "Timeout: no output"),
		submission("git", "status", ts, false, 30, "Timeout: hung"),
		submission("npm", "install", ts, true, 60, ""),
		submission("npm", "install", ts, true, 60, ""),
		submission("npm", "install", ts, false, 60, "Crash: segfault"),
		submission("cargo", "build", ts, true, 90, ""),
	}
	var results []json.RawMessage
	for _, b := range bodies {
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		results = append(results, raw)
	}
	rec := s.do(t, http.MethodPost, "/api/v1/results/batch", key, map[string]interface{}{"results": results})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListResultsRoute(t *testing.T) {
	s := newTestServer(t)
	admin := s.createKey(t, "admin", []string{"admin"}, 1000)
	seedRuns(t, s, admin.SecretKey)

	tests := []struct {
		query string
		count int
	}{
		{query: "", count: 10},
		{query: "?tool=git", count: 6},
		{query: "?tool=git&success=false", count: 2},
		{query: "?tool=git&success=maybe", count: 6},
		{query: "?scenario=install&limit=2", count: 2},
		{query: "?limit=5000&offset=8", count: 2},
		{query: "?tool=zig", count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/v1/results"+tt.query, admin.SecretKey, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var results []models.Result
			decodeEnvelope(t, rec, &results)
			assert.Len(t, results, tt.count)
			assert.NotNil(t, results)
		})
	}
}

func TestStatsRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := s.createKey(t, "admin", []string{"admin"}, 1000)
	reader := s.createKey(t, "reader", []string{"read"}, 1000)
	seedRuns(t, s, admin.SecretKey)

	get := func(t *testing.T, path string, data interface{}) envelope {
		t.Helper()
		rec := s.do(t, http.MethodGet, path, reader.SecretKey, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeEnvelope(t, rec, data)
	}

	t.Run("leaderboard", func(t *testing.T) {
		var entries []stats.LeaderboardEntry
		get(t, "/api/v1/leaderboard", &entries)
		require.Len(t, entries, 2, "cargo has too few runs")
		assert.Equal(t, "git", entries[0].Tool)
		assert.Equal(t, 6, entries[0].TotalRuns)
		assert.Equal(t, "npm", entries[1].Tool)
	})

	t.Run("aggregate", func(t *testing.T) {
		var agg stats.AggregateStats
		get(t, "/api/v1/stats/aggregate?period=week", &agg)
		assert.Equal(t, stats.PeriodWeek, agg.Period)
		assert.Equal(t, 10, agg.TotalRuns)
		assert.Equal(t, 3, agg.UniqueTools)
		assert.Equal(t, 0.7, agg.OverallSuccessRate)
		require.NotEmpty(t, agg.TopTools)
		assert.Equal(t, "git", agg.TopTools[0].Tool)

		get(t, "/api/v1/stats/aggregate?period=week&tool=npm", &agg)
		assert.Equal(t, 3, agg.TotalRuns)

		rec := s.do(t, http.MethodGet, "/api/v1/stats/aggregate?period=decade", reader.SecretKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_PERIOD", decodeEnvelope(t, rec, nil).Code)

		q := url.Values{"start_date": {"2025-03-12T00:00:00Z"}, "end_date": {"2025-03-01T00:00:00Z"}}
		rec = s.do(t, http.MethodGet, "/api/v1/stats/aggregate?"+q.Encode(), reader.SecretKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_DATE", decodeEnvelope(t, rec, nil).Code)
	})

	t.Run("compare", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/compare/tools", reader.SecretKey, map[string]interface{}{
			"tools": []string{"git", "npm"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var cmp stats.Comparison
		decodeEnvelope(t, rec, &cmp)
		require.Len(t, cmp.Tools, 2)
		assert.Equal(t, 1.0, cmp.ComparisonMatrix["git"]["git"])
		assert.Equal(t, 1.0, cmp.ComparisonMatrix["git"]["npm"])
		assert.Equal(t, []string{"pager", "flags"}, cmp.Tools[0].CommonFrictionPoints)

		rec = s.do(t, http.MethodPost, "/api/v1/compare/tools", reader.SecretKey, map[string]interface{}{"tools": []string{"git"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_TOOLS", decodeEnvelope(t, rec, nil).Code)

		rec = s.do(t, http.MethodPost, "/api/v1/compare/tools", reader.SecretKey, map[string]interface{}{"tools": []string{"git", "git"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_TOOLS", decodeEnvelope(t, rec, nil).Code)
	})

	t.Run("difficulty", func(t *testing.T) {
		var ranking stats.DifficultyRanking
		get(t, "/api/v1/scenarios/difficulty", &ranking)
		require.Len(t, ranking.Scenarios, 1, "only git/status has enough runs")
		assert.Equal(t, "status", ranking.Scenarios[0].Scenario)
		assert.Equal(t, 6, ranking.Scenarios[0].TotalRuns)
		assert.NotEmpty(t, ranking.Methodology.Factors)
	})

	t.Run("tool", func(t *testing.T) {
		var report stats.ToolReport
		get(t, "/api/v1/stats/tool/git", &report)
		assert.Equal(t, "git", report.Tool)
		assert.Equal(t, 6, report.TotalRuns)
		assert.Equal(t, 30.0, report.AvgDuration)
		assert.Contains(t, report.Scenarios, "status")

		rec := s.do(t, http.MethodGet, "/api/v1/stats/tool/zig", reader.SecretKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "TOOL_NOT_FOUND", decodeEnvelope(t, rec, nil).Code)
	})

	t.Run("scenario", func(t *testing.T) {
		var report stats.ScenarioReport
		get(t, "/api/v1/stats/scenario/git/status", &report)
		assert.Equal(t, 6, report.TotalRuns)
		assert.Len(t, report.RecentResults, 6)
		assert.Equal(t, map[string]int{"Timeout": 2}, report.CommonErrors)
		assert.NotNil(t, report.LastUpdated)

		rec := s.do(t, http.MethodGet, "/api/v1/stats/scenario/git/rebase", reader.SecretKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "SCENARIO_NOT_FOUND", decodeEnvelope(t, rec, nil).Code)
	})
}
