package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/storage"
	"agentprobe_api/internal/storage/storagetest"
	"agentprobe_api/internal/utils"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newAggregator(t *testing.T) (*Aggregator, *storage.DB, *clock.Fake) {
	db := storagetest.NewDB(t)
	clk := clock.NewFake(now)
	return New(db.NewResultRepository(), db.NewStatsRepository(), clk), db, clk
}

type run struct {
	tool      string
	scenario  string
	success   bool
	duration  float64
	at        time.Time
	friction  []string
	errorText string
}

func (r run) submission() Submission {
	at := r.at
	if at.IsZero() {
		at = now.Add(-time.Hour)
	}
	friction := r.friction
	if friction == nil {
		friction = []string{}
	}
	duration := r.duration
	if duration == 0 {
		duration = 30
	}
	return Submission{
		RunID:     uuid.NewString(),
		Timestamp: at.Format(time.RFC3339),
		Tool:      r.tool,
		Scenario:  r.scenario,
		ClientInfo: ClientInfo{
			AgentprobeVersion: "0.1.0",
			OS:                "linux",
			PythonVersion:     "3.11",
		},
		Execution: Execution{
			Duration:     duration,
			TotalTurns:   4,
			Success:      r.success,
			ErrorMessage: r.errorText,
		},
		Analysis: Analysis{
			FrictionPoints:  friction,
			HelpUsageCount:  1,
			Recommendations: []string{"add examples"},
		},
	}
}

func submitAll(t *testing.T, agg *Aggregator, runs ...run) {
	t.Helper()
	for _, r := range runs {
		_, err := agg.Submit(context.Background(), r.submission())
		require.NoError(t, err)
	}
}

func repeat(n int, r run) []run {
	out := make([]run, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func assertCode(t *testing.T, err error, kind utils.ErrorKind, code string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := utils.AsAppError(err)
	require.True(t, ok, "expected AppError, got %T", err)
	assert.Equal(t, kind, appErr.Kind)
	assert.Equal(t, code, appErr.Code)
}

func TestSubmissionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Submission)
		wantErr string
	}{
		{name: "valid", mutate: func(s *Submission) {}},
		{name: "bad run id", mutate: func(s *Submission) { s.RunID = "run-1" }, wantErr: "run_id"},
		{name: "bad timestamp", mutate: func(s *Submission) { s.Timestamp = "2025-03-10" }, wantErr: "timestamp"},
		{name: "missing tool", mutate: func(s *Submission) { s.Tool = " " }, wantErr: "tool"},
		{name: "missing scenario", mutate: func(s *Submission) { s.Scenario = "" }, wantErr: "scenario"},
		{name: "zero duration", mutate: func(s *Submission) { s.Execution.Duration = 0 }, wantErr: "execution.duration"},
		{name: "zero turns", mutate: func(s *Submission) { s.Execution.TotalTurns = 0 }, wantErr: "execution.total_turns"},
		{name: "negative help usage", mutate: func(s *Submission) { s.Analysis.HelpUsageCount = -1 }, wantErr: "analysis.help_usage_count"},
		{name: "offset timestamp", mutate: func(s *Submission) { s.Timestamp = "2025-03-10T14:00:00+02:00" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := run{tool: "git", scenario: "status"}.submission()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assertCode(t, err, utils.KindValidation, "VALIDATION_ERROR")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEffectiveClientID(t *testing.T) {
	s := run{tool: "git", scenario: "status"}.submission()
	assert.Equal(t, "bGludXgtMy4xMQ==", s.EffectiveClientID())

	s.ClientInfo = ClientInfo{OS: "Darwin", PythonVersion: "3.12.1"}
	assert.Equal(t, "RGFyd2luLTMuMTIu", s.EffectiveClientID())

	s.ClientID = "my-client"
	assert.Equal(t, "my-client", s.EffectiveClientID())
}

func TestSubmitUpdatesRollups(t *testing.T) {
	agg, db, _ := newAggregator(t)
	ctx := context.Background()

	submitAll(t, agg,
		run{tool: "git", scenario: "status", success: true, duration: 10, friction: []string{"unclear flags"}},
		run{tool: "git", scenario: "status", success: true, duration: 20, friction: []string{"unclear flags", "slow"}},
		run{tool: "git", scenario: "status", success: true, duration: 30},
		run{tool: "git", scenario: "status", success: false, duration: 40},
	)

	rollups, err := db.NewStatsRepository().ListToolStats(ctx, "git", "status")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, 4, rollups[0].TotalRuns)
	assert.Equal(t, 3, rollups[0].SuccessfulRuns)
	assert.InDelta(t, 0.75, rollups[0].SuccessRate, 1e-9)
	assert.InDelta(t, 25.0, rollups[0].AvgDuration, 1e-9)

	points, err := db.NewStatsRepository().TopFrictionPoints(ctx, "git", 5)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "unclear flags", points[0].FrictionPoint)
	assert.Equal(t, 2, points[0].Count)
}

func TestSubmitStoresResult(t *testing.T) {
	agg, db, _ := newAggregator(t)
	ctx := context.Background()

	sub := run{tool: "docker", scenario: "build", success: false, errorText: "Timeout: no output"}.submission()
	id, err := agg.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, sub.RunID, id)

	stored, err := db.NewResultRepository().GetByRunID(ctx, sub.RunID)
	require.NoError(t, err)
	assert.Equal(t, "docker", stored.Tool)
	assert.Equal(t, "bGludXgtMy4xMQ==", stored.ClientID)
	assert.Equal(t, "Timeout: no output", stored.ErrorMessage)
	assert.Equal(t, []string{"add examples"}, []string(stored.Recommendations))
	assert.Equal(t, now.Add(-time.Hour), stored.Timestamp.UTC())
}

func TestSubmitRejectsInvalid(t *testing.T) {
	agg, db, _ := newAggregator(t)

	sub := run{tool: "git", scenario: "status"}.submission()
	sub.Execution.Duration = -1
	_, err := agg.Submit(context.Background(), sub)
	assertCode(t, err, utils.KindValidation, "VALIDATION_ERROR")

	counts, err := db.NewResultRepository().Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.TotalResults)
}

func TestSubmitDuplicateRunID(t *testing.T) {
	agg, db, _ := newAggregator(t)
	ctx := context.Background()

	sub := run{tool: "git", scenario: "status", success: true}.submission()
	_, err := agg.Submit(ctx, sub)
	require.NoError(t, err)

	_, err = agg.Submit(ctx, sub)
	assertCode(t, err, utils.KindConflict, "DUPLICATE_RUN_ID")

	rollups, err := db.NewStatsRepository().ListToolStats(ctx, "git", "status")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, 1, rollups[0].TotalRuns)
}

func TestSubmitConcurrentNoLostUpdates(t *testing.T) {
	agg, db, _ := newAggregator(t)
	ctx := context.Background()

	const k = 25
	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := agg.Submit(ctx, run{tool: "git", scenario: "status", success: i%2 == 0, friction: []string{"slow"}}.submission())
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rollups, err := db.NewStatsRepository().ListToolStats(ctx, "git", "status")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, k, rollups[0].TotalRuns)
	assert.Equal(t, 13, rollups[0].SuccessfulRuns)

	points, err := db.NewStatsRepository().TopFrictionPoints(ctx, "git", 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, k, points[0].Count)
}

func TestSubmitPersistenceError(t *testing.T) {
	agg, db, _ := newAggregator(t)
	require.NoError(t, db.Close())

	_, err := agg.Submit(context.Background(), run{tool: "git", scenario: "status"}.submission())
	assertCode(t, err, utils.KindPersistence, "SUBMISSION_ERROR")
}

func rawItems(t *testing.T, items ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if raw, ok := item.(string); ok {
			out = append(out, json.RawMessage(raw))
			continue
		}
		b, err := json.Marshal(item)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestSubmitBatch(t *testing.T) {
	t.Run("all stored", func(t *testing.T) {
		agg, _, _ := newAggregator(t)
		res := agg.SubmitBatch(context.Background(), BatchRequest{
			Results: rawItems(t,
				run{tool: "git", scenario: "status", success: true}.submission(),
				run{tool: "git", scenario: "log", success: false}.submission(),
			),
			Metadata: &BatchMetadata{BatchID: "nightly-42", Source: "ci"},
		})

		assert.Equal(t, "success", res.Status)
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, 0, res.Failed)
		assert.Empty(t, res.Errors)
		assert.Equal(t, "nightly-42", res.BatchID)
		assert.Equal(t, http.StatusOK, res.HTTPStatus())
	})

	t.Run("partial", func(t *testing.T) {
		agg, db, _ := newAggregator(t)
		dup := run{tool: "git", scenario: "status", success: true}.submission()
		invalid := run{tool: "git", scenario: "status"}.submission()
		invalid.Execution.TotalTurns = 0

		res := agg.SubmitBatch(context.Background(), BatchRequest{
			Results: rawItems(t, dup, `{"run_id": 7}`, invalid, dup, run{tool: "npm", scenario: "install"}.submission()),
		})

		assert.Equal(t, "partial", res.Status)
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, 3, res.Failed)
		require.Len(t, res.Errors, 3)
		assert.Equal(t, 1, res.Errors[0].Index)
		assert.Contains(t, res.Errors[0].Error, "invalid submission")
		assert.Equal(t, 2, res.Errors[1].Index)
		assert.Contains(t, res.Errors[1].Error, "total_turns")
		assert.Equal(t, 3, res.Errors[2].Index)
		assert.Contains(t, res.Errors[2].Error, "already exists")
		assert.Equal(t, http.StatusMultiStatus, res.HTTPStatus())
		assert.Equal(t, fmt.Sprintf("batch_%d", now.UnixMilli()), res.BatchID)

		counts, err := db.NewResultRepository().Counts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, counts.TotalResults)
	})

	t.Run("none stored", func(t *testing.T) {
		agg, _, _ := newAggregator(t)
		res := agg.SubmitBatch(context.Background(), BatchRequest{Results: rawItems(t, `"nope"`, `{}`)})

		assert.Equal(t, "error", res.Status)
		assert.Equal(t, 0, res.Processed)
		assert.Equal(t, 2, res.Failed)
		assert.Equal(t, http.StatusBadRequest, res.HTTPStatus())
	})
}

func TestParseResultQuery(t *testing.T) {
	tests := []struct {
		name        string
		success     string
		limit       string
		offset      string
		wantSuccess *bool
		wantLimit   int
		wantOffset  int
	}{
		{name: "defaults", wantLimit: 100},
		{name: "explicit", success: "true", limit: "25", offset: "50", wantSuccess: utils.BoolPtr(true), wantLimit: 25, wantOffset: 50},
		{name: "false filter", success: "false", wantSuccess: utils.BoolPtr(false), wantLimit: 100},
		{name: "unknown success ignored", success: "yes", wantLimit: 100},
		{name: "garbage limit", limit: "abc", wantLimit: 100},
		{name: "zero limit", limit: "0", wantLimit: 100},
		{name: "capped", limit: "5000", wantLimit: 1000},
		{name: "negative offset", offset: "-5", wantLimit: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ParseResultQuery("git", "", tt.success, tt.limit, tt.offset)
			assert.Equal(t, "git", q.Tool)
			assert.Equal(t, tt.wantSuccess, q.Success)
			assert.Equal(t, tt.wantLimit, q.Limit)
			assert.Equal(t, tt.wantOffset, q.Offset)
		})
	}
}

func TestResults(t *testing.T) {
	agg, _, _ := newAggregator(t)
	ctx := context.Background()

	submitAll(t, agg,
		run{tool: "git", scenario: "status", success: true, at: now.Add(-3 * time.Hour)},
		run{tool: "git", scenario: "status", success: false, at: now.Add(-2 * time.Hour)},
		run{tool: "npm", scenario: "install", success: true, at: now.Add(-time.Hour)},
	)

	all, err := agg.Results(ctx, ResultQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "npm", all[0].Tool)

	failed, err := agg.Results(ctx, ResultQuery{Tool: "git", Success: utils.BoolPtr(false), Limit: 10})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)

	page, err := agg.Results(ctx, ResultQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, now.Add(-2*time.Hour), page[0].Timestamp.UTC())

	none, err := agg.Results(ctx, ResultQuery{Tool: "cargo"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCounts(t *testing.T) {
	agg, _, _ := newAggregator(t)
	submitAll(t, agg,
		run{tool: "git", scenario: "status", at: now.Add(-2 * time.Hour)},
		run{tool: "npm", scenario: "install", at: now.Add(-time.Hour)},
	)

	counts, err := agg.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.TotalResults)
	assert.Equal(t, 2, counts.TotalTools)
	assert.Equal(t, 2, counts.TotalScenarios)
	require.NotNil(t, counts.LastSubmission)
	assert.Equal(t, now.Add(-time.Hour), counts.LastSubmission.UTC())
}
