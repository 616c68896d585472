// Package stats accepts test-run submissions and answers the statistical
// queries built on top of them: leaderboard, period aggregates, tool
// comparison, scenario difficulty and per-tool/per-scenario reports.
//
// Every accepted submission is stored together with its (tool, scenario)
// rollup and friction point counters in a single store call, so the
// rollups never lose concurrent updates.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/storage"
	"agentprobe_api/internal/utils"
)

const (
	DefaultResultLimit = 100
	MaxResultLimit     = 1000
)

// ResultStore is the result persistence the aggregator needs.
type ResultStore interface {
	RecordSubmission(ctx context.Context, result *models.Result, now time.Time) error
	List(ctx context.Context, filter models.ResultFilter) ([]*models.Result, error)
	Summary(ctx context.Context, filter models.ResultFilter) (*models.ResultSummary, error)
	DailyTrends(ctx context.Context, filter models.ResultFilter) ([]models.DailyTrend, error)
	TopGroups(ctx context.Context, filter models.ResultFilter, column string, limit int) ([]models.GroupCount, error)
	ScenarioAggregates(ctx context.Context, minRuns int) ([]models.ScenarioAggregate, error)
	Counts(ctx context.Context) (*models.StoreCounts, error)
}

// RollupStore reads the incrementally maintained rollups.
type RollupStore interface {
	ListToolStats(ctx context.Context, tool, scenario string) ([]*models.ToolStats, error)
	ToolTotals(ctx context.Context, minRuns int) ([]models.ToolTotals, error)
	TopFrictionPoints(ctx context.Context, tool string, limit int) ([]*models.FrictionPointStats, error)
}

// Aggregator is the statistics service.
type Aggregator struct {
	results ResultStore
	rollups RollupStore
	clock   clock.Clock
	logger  *utils.Logger
}

func New(results ResultStore, rollups RollupStore, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Aggregator{
		results: results,
		rollups: rollups,
		clock:   clk,
		logger:  utils.NewLogger("aggregator"),
	}
}

// Submit validates and stores one submission, returning its run ID.
func (a *Aggregator) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}

	now := a.clock.Now()
	if err := a.results.RecordSubmission(ctx, sub.toResult(now), now); err != nil {
		if errors.Is(err, storage.ErrDuplicateRunID) {
			return "", utils.NewConflictError("DUPLICATE_RUN_ID", fmt.Sprintf("A result with run_id %s already exists", sub.RunID))
		}
		a.logger.Error("Failed to record submission", "run_id", sub.RunID, "error", err)
		return "", utils.NewPersistenceError("SUBMISSION_ERROR", "Failed to submit result", err)
	}

	a.logger.Debug("Result recorded", "run_id", sub.RunID, "tool", sub.Tool, "scenario", sub.Scenario)
	return sub.RunID, nil
}

// BatchMetadata optionally describes a batch.
type BatchMetadata struct {
	BatchID     string `json:"batch_id,omitempty"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// BatchRequest holds raw items so that one malformed item fails alone.
type BatchRequest struct {
	Results  []json.RawMessage `json:"results"`
	Metadata *BatchMetadata    `json:"metadata,omitempty"`
}

// BatchItemError reports why the item at Index was not stored.
type BatchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Status    string           `json:"status"`
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Errors    []BatchItemError `json:"errors,omitempty"`
	BatchID   string           `json:"batch_id"`
}

// HTTPStatus is 200 when every item was stored, 207 when some were and
// 400 when none were.
func (b *BatchResult) HTTPStatus() int {
	switch b.Status {
	case "success":
		return http.StatusOK
	case "partial":
		return http.StatusMultiStatus
	default:
		return http.StatusBadRequest
	}
}

// SubmitBatch processes items in order. A failing item is recorded and
// processing continues with the next one.
func (a *Aggregator) SubmitBatch(ctx context.Context, req BatchRequest) *BatchResult {
	result := &BatchResult{}
	if req.Metadata != nil && req.Metadata.BatchID != "" {
		result.BatchID = req.Metadata.BatchID
	} else {
		result.BatchID = "batch_" + strconv.FormatInt(a.clock.Now().UnixMilli(), 10)
	}

	for i, raw := range req.Results {
		var sub Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			result.Errors = append(result.Errors, BatchItemError{Index: i, Error: "invalid submission: " + err.Error()})
			continue
		}
		if _, err := a.Submit(ctx, sub); err != nil {
			result.Errors = append(result.Errors, BatchItemError{Index: i, Error: itemError(err)})
			continue
		}
		result.Processed++
	}

	result.Failed = len(result.Errors)
	switch {
	case result.Failed == 0:
		result.Status = "success"
	case result.Processed > 0:
		result.Status = "partial"
	default:
		result.Status = "error"
	}

	a.logger.Info("Batch processed", "batch_id", result.BatchID, "processed", result.Processed, "failed", result.Failed)
	return result
}

// itemError reports the AppError message only, so persistence causes stay in the logs.
func itemError(err error) string {
	if appErr, ok := utils.AsAppError(err); ok {
		return appErr.Message
	}
	return "Unknown error"
}

// ResultQuery filters the result listing.
type ResultQuery struct {
	Tool     string
	Scenario string
	Success  *bool
	Limit    int
	Offset   int
}

// ParseResultQuery reads list parameters. Unparseable or non-positive limits
// fall back to DefaultResultLimit, larger ones are capped at MaxResultLimit,
// and success values other than true/false are ignored.
func ParseResultQuery(tool, scenario, success, limit, offset string) ResultQuery {
	q := ResultQuery{Tool: tool, Scenario: scenario, Limit: DefaultResultLimit}

	switch success {
	case "true":
		q.Success = utils.BoolPtr(true)
	case "false":
		q.Success = utils.BoolPtr(false)
	}

	if n, err := strconv.Atoi(limit); err == nil && n > 0 {
		q.Limit = min(n, MaxResultLimit)
	}
	if n, err := strconv.Atoi(offset); err == nil && n > 0 {
		q.Offset = n
	}
	return q
}

// Results lists stored results newest first.
func (a *Aggregator) Results(ctx context.Context, q ResultQuery) ([]*models.Result, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultResultLimit
	}
	q.Limit = min(q.Limit, MaxResultLimit)
	q.Offset = max(q.Offset, 0)

	results, err := a.results.List(ctx, models.ResultFilter{
		Tool:     q.Tool,
		Scenario: q.Scenario,
		Success:  q.Success,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		return nil, utils.NewPersistenceError("QUERY_ERROR", "Failed to query results", err)
	}
	if results == nil {
		results = []*models.Result{}
	}
	return results, nil
}

// Counts returns the totals reported by the health check.
func (a *Aggregator) Counts(ctx context.Context) (*models.StoreCounts, error) {
	return a.results.Counts(ctx)
}
