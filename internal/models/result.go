package models

import "time"

// Result is one submitted test run.
type Result struct {
	ID                 int64      `db:"id" json:"-"`
	RunID              string     `db:"run_id" json:"run_id"`
	Timestamp          time.Time  `db:"timestamp" json:"timestamp"`
	Tool               string     `db:"tool" json:"tool"`
	Scenario           string     `db:"scenario" json:"scenario"`
	AgentprobeVersion  string     `db:"agentprobe_version" json:"agentprobe_version"`
	OS                 string     `db:"os" json:"os"`
	PythonVersion      string     `db:"python_version" json:"python_version"`
	Duration           float64    `db:"duration" json:"duration"`
	TotalTurns         int        `db:"total_turns" json:"total_turns"`
	Success            bool       `db:"success" json:"success"`
	ErrorMessage       string     `db:"error_message" json:"error_message,omitempty"`
	FrictionPoints     StringList `db:"friction_points" json:"friction_points"`
	FrictionPointCount int        `db:"friction_point_count" json:"-"`
	HelpUsageCount     int        `db:"help_usage_count" json:"help_usage_count"`
	Recommendations    StringList `db:"recommendations" json:"recommendations"`
	ClientID           string     `db:"client_id" json:"client_id"`
	CreatedAt          time.Time  `db:"created_at" json:"-"`
}

// ResultFilter selects stored results. Zero values mean "any".
type ResultFilter struct {
	Tool     string
	Scenario string
	Success  *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}
