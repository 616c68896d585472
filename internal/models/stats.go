package models

import "time"

// ToolStats is the incrementally maintained rollup for one (tool, scenario).
type ToolStats struct {
	ID             int64     `db:"id"`
	Tool           string    `db:"tool"`
	Scenario       string    `db:"scenario"`
	TotalRuns      int       `db:"total_runs"`
	SuccessfulRuns int       `db:"successful_runs"`
	SuccessRate    float64   `db:"success_rate"`
	AvgDuration    float64   `db:"avg_duration"`
	LastUpdated    time.Time `db:"last_updated"`
}

// FrictionPointStats counts one friction point reported for a tool.
type FrictionPointStats struct {
	ID            int64     `db:"id"`
	Tool          string    `db:"tool"`
	FrictionPoint string    `db:"friction_point"`
	Count         int       `db:"count"`
	LastSeen      time.Time `db:"last_seen"`
}

// ToolTotals sums a tool's rollups across scenarios.
type ToolTotals struct {
	Tool           string  `db:"tool"`
	TotalRuns      int     `db:"total_runs"`
	SuccessfulRuns int     `db:"successful_runs"`
	DurationSum    float64 `db:"duration_sum"` // sum of avg_duration * total_runs
}

// GroupCount is a runs/success pair for one grouping value.
type GroupCount struct {
	Name           string `db:"name"`
	Runs           int    `db:"runs"`
	SuccessfulRuns int    `db:"successful_runs"`
}

// DailyTrend is one day of submitted results.
type DailyTrend struct {
	Date           string  `db:"date"`
	Runs           int     `db:"runs"`
	SuccessfulRuns int     `db:"successful_runs"`
	AvgDuration    float64 `db:"avg_duration"`
}

// ResultSummary aggregates results over a filter.
type ResultSummary struct {
	TotalRuns       int `db:"total_runs"`
	SuccessfulRuns  int `db:"successful_runs"`
	UniqueTools     int `db:"unique_tools"`
	UniqueScenarios int `db:"unique_scenarios"`
}

// ScenarioAggregate is the per-scenario input to difficulty scoring.
type ScenarioAggregate struct {
	Scenario          string  `db:"scenario"`
	TotalRuns         int     `db:"total_runs"`
	SuccessfulRuns    int     `db:"successful_runs"`
	AvgDuration       float64 `db:"avg_duration"`
	AvgFrictionPoints float64 `db:"avg_friction_points"`
	ToolsTested       int     `db:"tools_tested"`
}

// StoreCounts backs the health endpoint.
type StoreCounts struct {
	TotalResults   int        `db:"total_results"`
	TotalTools     int        `db:"total_tools"`
	TotalScenarios int        `db:"total_scenarios"`
	LastSubmission *time.Time `db:"-"`
}
