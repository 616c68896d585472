package storage

import (
	"context"
	"fmt"

	"agentprobe_api/internal/models"
)

// StatsRepository reads the incrementally maintained rollups
type StatsRepository struct {
	db *DB
}

// NewStatsRepository creates a new rollup statistics repository
func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{
		db: db,
	}
}

// ListToolStats returns rollups, optionally restricted to a tool and/or scenario
func (r *StatsRepository) ListToolStats(ctx context.Context, tool, scenario string) ([]*models.ToolStats, error) {
	query := `SELECT id, tool, scenario, total_runs, successful_runs, success_rate, avg_duration, last_updated FROM tool_stats WHERE 1 = 1`
	var args []interface{}
	if tool != "" {
		query += ` AND tool = ?`
		args = append(args, tool)
	}
	if scenario != "" {
		query += ` AND scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY tool, scenario`

	var stats []*models.ToolStats
	if err := r.db.conn.SelectContext(ctx, &stats, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tool stats: %w", err)
	}
	for _, st := range stats {
		utc(&st.LastUpdated)
	}
	return stats, nil
}

// ToolTotals sums each tool's rollups, keeping tools with at least minRuns runs
func (r *StatsRepository) ToolTotals(ctx context.Context, minRuns int) ([]models.ToolTotals, error) {
	query := r.db.q(`
		SELECT tool,
			SUM(total_runs) AS total_runs,
			SUM(successful_runs) AS successful_runs,
			SUM(avg_duration * total_runs) AS duration_sum
		FROM tool_stats
		GROUP BY tool
		HAVING SUM(total_runs) >= ?
	`)

	var totals []models.ToolTotals
	if err := r.db.conn.SelectContext(ctx, &totals, query, minRuns); err != nil {
		return nil, fmt.Errorf("failed to get tool totals: %w", err)
	}
	return totals, nil
}

// TopFrictionPoints returns a tool's most frequent friction points
func (r *StatsRepository) TopFrictionPoints(ctx context.Context, tool string, limit int) ([]*models.FrictionPointStats, error) {
	query := r.db.q(`
		SELECT id, tool, friction_point, count, last_seen
		FROM friction_point_stats
		WHERE tool = ?
		ORDER BY count DESC, friction_point
		LIMIT ?
	`)

	var points []*models.FrictionPointStats
	if err := r.db.conn.SelectContext(ctx, &points, query, tool, limit); err != nil {
		return nil, fmt.Errorf("failed to get friction points: %w", err)
	}
	for _, p := range points {
		utc(&p.LastSeen)
	}
	return points, nil
}
