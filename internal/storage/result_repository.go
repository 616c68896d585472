package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"agentprobe_api/internal/models"
)

const resultColumns = `id, run_id, timestamp, tool, scenario, agentprobe_version, os, python_version, duration, total_turns,
	success, error_message, friction_points, friction_point_count, help_usage_count, recommendations, client_id, created_at`

const successCount = `COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0)`

// ResultRepository stores submitted results and keeps the rollups current
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new results repository
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{
		db: db,
	}
}

// RecordSubmission inserts a result and folds it into the (tool, scenario)
// rollup and the tool's friction point counters in one transaction.
func (r *ResultRepository) RecordSubmission(ctx context.Context, result *models.Result, now time.Time) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertResult(ctx, tx, result); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRunID
		}
		return fmt.Errorf("failed to insert result: %w", err)
	}

	if err := r.upsertToolStats(ctx, tx, result, now); err != nil {
		return fmt.Errorf("failed to update tool stats: %w", err)
	}

	for _, fp := range result.FrictionPoints {
		if err := r.upsertFrictionPoint(ctx, tx, result.Tool, fp, now); err != nil {
			return fmt.Errorf("failed to update friction point stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *ResultRepository) insertResult(ctx context.Context, tx *sqlx.Tx, result *models.Result) error {
	query := r.db.q(`
		INSERT INTO results (run_id, timestamp, tool, scenario, agentprobe_version, os, python_version, duration, total_turns,
			success, error_message, friction_points, friction_point_count, help_usage_count, recommendations, client_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	result.FrictionPointCount = len(result.FrictionPoints)
	return tx.QueryRowContext(ctx, query,
		result.RunID, result.Timestamp, result.Tool, result.Scenario, result.AgentprobeVersion, result.OS, result.PythonVersion,
		result.Duration, result.TotalTurns, result.Success, result.ErrorMessage, result.FrictionPoints, result.FrictionPointCount,
		result.HelpUsageCount, result.Recommendations, result.ClientID, result.CreatedAt,
	).Scan(&result.ID)
}

// upsertToolStats folds one result into the rollup. All right-hand sides read
// the pre-update row, so the running mean and rate are computed atomically.
func (r *ResultRepository) upsertToolStats(ctx context.Context, tx *sqlx.Tx, result *models.Result, now time.Time) error {
	successful := 0
	rate := 0.0
	if result.Success {
		successful = 1
		rate = 1
	}

	query := r.db.q(`
		INSERT INTO tool_stats (tool, scenario, total_runs, successful_runs, success_rate, avg_duration, last_updated)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (tool, scenario) DO UPDATE SET
			total_runs = tool_stats.total_runs + 1,
			successful_runs = tool_stats.successful_runs + excluded.successful_runs,
			success_rate = (tool_stats.successful_runs + excluded.successful_runs) * 1.0 / (tool_stats.total_runs + 1),
			avg_duration = (tool_stats.avg_duration * tool_stats.total_runs + excluded.avg_duration) / (tool_stats.total_runs + 1),
			last_updated = excluded.last_updated
	`)

	_, err := tx.ExecContext(ctx, query, result.Tool, result.Scenario, successful, rate, result.Duration, now)
	return err
}

func (r *ResultRepository) upsertFrictionPoint(ctx context.Context, tx *sqlx.Tx, tool, frictionPoint string, now time.Time) error {
	query := r.db.q(`
		INSERT INTO friction_point_stats (tool, friction_point, count, last_seen)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (tool, friction_point) DO UPDATE SET
			count = friction_point_stats.count + 1,
			last_seen = excluded.last_seen
	`)

	_, err := tx.ExecContext(ctx, query, tool, frictionPoint, now)
	return err
}

// GetByRunID retrieves one result
func (r *ResultRepository) GetByRunID(ctx context.Context, runID string) (*models.Result, error) {
	var result models.Result
	err := r.db.conn.GetContext(ctx, &result, r.db.q(`SELECT `+resultColumns+` FROM results WHERE run_id = ?`), runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	utcResult(&result)
	return &result, nil
}

// List returns results matching filter, newest first
func (r *ResultRepository) List(ctx context.Context, filter models.ResultFilter) ([]*models.Result, error) {
	where, args := resultWhere(filter)
	query := `SELECT ` + resultColumns + ` FROM results` + where + ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	var results []*models.Result
	if err := r.db.conn.SelectContext(ctx, &results, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	for _, res := range results {
		utcResult(res)
	}
	return results, nil
}

// Summary aggregates results matching filter
func (r *ResultRepository) Summary(ctx context.Context, filter models.ResultFilter) (*models.ResultSummary, error) {
	where, args := resultWhere(filter)
	query := `
		SELECT COUNT(*) AS total_runs,
			` + successCount + ` AS successful_runs,
			COUNT(DISTINCT tool) AS unique_tools,
			COUNT(DISTINCT scenario) AS unique_scenarios
		FROM results` + where

	var summary models.ResultSummary
	if err := r.db.conn.GetContext(ctx, &summary, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to summarize results: %w", err)
	}
	return &summary, nil
}

// DailyTrends groups results matching filter by calendar day, oldest first
func (r *ResultRepository) DailyTrends(ctx context.Context, filter models.ResultFilter) ([]models.DailyTrend, error) {
	where, args := resultWhere(filter)
	query := `
		SELECT CAST(DATE(timestamp) AS TEXT) AS date,
			COUNT(*) AS runs,
			` + successCount + ` AS successful_runs,
			COALESCE(AVG(duration), 0) AS avg_duration
		FROM results` + where + `
		GROUP BY CAST(DATE(timestamp) AS TEXT)
		ORDER BY date`

	var trends []models.DailyTrend
	if err := r.db.conn.SelectContext(ctx, &trends, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get daily trends: %w", err)
	}
	return trends, nil
}

// TopGroups returns the most-run values of column ("tool" or "scenario") for filter
func (r *ResultRepository) TopGroups(ctx context.Context, filter models.ResultFilter, column string, limit int) ([]models.GroupCount, error) {
	if column != "tool" && column != "scenario" {
		return nil, fmt.Errorf("unsupported group column %q", column)
	}

	where, args := resultWhere(filter)
	query := `
		SELECT ` + column + ` AS name,
			COUNT(*) AS runs,
			` + successCount + ` AS successful_runs
		FROM results` + where + `
		GROUP BY ` + column + `
		ORDER BY runs DESC, name
		LIMIT ?`
	args = append(args, limit)

	var groups []models.GroupCount
	if err := r.db.conn.SelectContext(ctx, &groups, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get top %s: %w", column, err)
	}
	return groups, nil
}

// ScenarioAggregates returns per-scenario aggregates for scenarios with at least minRuns results
func (r *ResultRepository) ScenarioAggregates(ctx context.Context, minRuns int) ([]models.ScenarioAggregate, error) {
	query := r.db.q(`
		SELECT scenario,
			COUNT(*) AS total_runs,
			` + successCount + ` AS successful_runs,
			COALESCE(AVG(duration), 0) AS avg_duration,
			COALESCE(AVG(friction_point_count * 1.0), 0) AS avg_friction_points,
			COUNT(DISTINCT tool) AS tools_tested
		FROM results
		GROUP BY scenario
		HAVING COUNT(*) >= ?
	`)

	var rows []models.ScenarioAggregate
	if err := r.db.conn.SelectContext(ctx, &rows, query, minRuns); err != nil {
		return nil, fmt.Errorf("failed to aggregate scenarios: %w", err)
	}
	return rows, nil
}

// Counts returns the totals reported by the health endpoint
func (r *ResultRepository) Counts(ctx context.Context) (*models.StoreCounts, error) {
	var counts models.StoreCounts
	query := `
		SELECT
			(SELECT COUNT(*) FROM results) AS total_results,
			(SELECT COUNT(DISTINCT tool) FROM tool_stats) AS total_tools,
			(SELECT COUNT(DISTINCT scenario) FROM tool_stats) AS total_scenarios`
	if err := r.db.conn.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}

	var last time.Time
	err := r.db.conn.GetContext(ctx, &last, `SELECT timestamp FROM results ORDER BY timestamp DESC LIMIT 1`)
	switch {
	case err == nil:
		last = last.UTC()
		counts.LastSubmission = &last
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("failed to get last submission: %w", err)
	}

	return &counts, nil
}

func resultWhere(filter models.ResultFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.Tool != "" {
		clauses = append(clauses, "tool = ?")
		args = append(args, filter.Tool)
	}
	if filter.Scenario != "" {
		clauses = append(clauses, "scenario = ?")
		args = append(args, filter.Scenario)
	}
	if filter.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, *filter.Success)
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *filter.Until)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
