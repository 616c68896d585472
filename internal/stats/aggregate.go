package stats

import (
	"context"
	"time"

	"agentprobe_api/internal/models"
	"agentprobe_api/internal/utils"
)

const topGroupLimit = 10

// Period names a look-back window ending now.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"

	// PeriodCustom is reported when explicit dates were used without a period.
	PeriodCustom Period = "custom"
)

// Start returns the beginning of the period ending at now.
func (p Period) Start(now time.Time) (time.Time, bool) {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7), true
	case PeriodMonth:
		return now.AddDate(0, -1, 0), true
	case PeriodQuarter:
		return now.AddDate(0, -3, 0), true
	case PeriodYear:
		return now.AddDate(-1, 0, 0), true
	}
	return time.Time{}, false
}

// AggregateRequest selects the window and scope of an aggregate query.
// StartDate and EndDate win over Period when both are set.
type AggregateRequest struct {
	Period    string
	Tool      string
	Scenario  string
	StartDate string
	EndDate   string
}

type Trend struct {
	Date        string  `json:"date"`
	Runs        int     `json:"runs"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration"`
}

type ToolCount struct {
	Tool        string  `json:"tool"`
	Runs        int     `json:"runs"`
	SuccessRate float64 `json:"success_rate"`
}

type ScenarioCount struct {
	Scenario    string  `json:"scenario"`
	Runs        int     `json:"runs"`
	SuccessRate float64 `json:"success_rate"`
}

// AggregateStats summarizes results over a window.
type AggregateStats struct {
	Period             Period          `json:"period"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
	TotalRuns          int             `json:"total_runs"`
	UniqueTools        int             `json:"unique_tools"`
	UniqueScenarios    int             `json:"unique_scenarios"`
	OverallSuccessRate float64         `json:"overall_success_rate"`
	Trends             []Trend         `json:"trends"`
	TopTools           []ToolCount     `json:"top_tools"`
	TopScenarios       []ScenarioCount `json:"top_scenarios"`
}

// resolveWindow turns req into a time range.
func (a *Aggregator) resolveWindow(req AggregateRequest) (Period, time.Time, time.Time, error) {
	period := Period(req.Period)

	if req.StartDate != "" && req.EndDate != "" {
		start, err := parseTimestamp(req.StartDate)
		if err != nil {
			return "", time.Time{}, time.Time{}, utils.NewValidationError("INVALID_DATE", "start_date must be an RFC 3339 date-time")
		}
		end, err := parseTimestamp(req.EndDate)
		if err != nil {
			return "", time.Time{}, time.Time{}, utils.NewValidationError("INVALID_DATE", "end_date must be an RFC 3339 date-time")
		}
		if end.Before(start) {
			return "", time.Time{}, time.Time{}, utils.NewValidationError("INVALID_DATE", "end_date must not be before start_date")
		}
		if period == "" {
			period = PeriodCustom
		} else if _, ok := period.Start(end); !ok {
			return "", time.Time{}, time.Time{}, invalidPeriod()
		}
		return period, start, end, nil
	}

	end := a.clock.Now()
	start, ok := period.Start(end)
	if !ok {
		return "", time.Time{}, time.Time{}, invalidPeriod()
	}
	return period, start, end, nil
}

// Aggregate computes totals, daily trends and the top tools and scenarios
// for the requested window.
func (a *Aggregator) Aggregate(ctx context.Context, req AggregateRequest) (*AggregateStats, error) {
	period, start, end, err := a.resolveWindow(req)
	if err != nil {
		return nil, err
	}

	filter := models.ResultFilter{
		Tool:     req.Tool,
		Scenario: req.Scenario,
		Since:    &start,
		Until:    &end,
	}

	summary, err := a.results.Summary(ctx, filter)
	if err != nil {
		return nil, aggregateError(err)
	}
	days, err := a.results.DailyTrends(ctx, filter)
	if err != nil {
		return nil, aggregateError(err)
	}
	tools, err := a.results.TopGroups(ctx, filter, "tool", topGroupLimit)
	if err != nil {
		return nil, aggregateError(err)
	}
	scenarios, err := a.results.TopGroups(ctx, filter, "scenario", topGroupLimit)
	if err != nil {
		return nil, aggregateError(err)
	}

	resp := &AggregateStats{
		Period:             period,
		StartDate:          start.Format(time.RFC3339Nano),
		EndDate:            end.Format(time.RFC3339Nano),
		TotalRuns:          summary.TotalRuns,
		UniqueTools:        summary.UniqueTools,
		UniqueScenarios:    summary.UniqueScenarios,
		OverallSuccessRate: utils.SafeRatio(float64(summary.SuccessfulRuns), float64(summary.TotalRuns)),
		Trends:             make([]Trend, 0, len(days)),
		TopTools:           make([]ToolCount, 0, len(tools)),
		TopScenarios:       make([]ScenarioCount, 0, len(scenarios)),
	}

	for _, d := range days {
		resp.Trends = append(resp.Trends, Trend{
			Date:        d.Date,
			Runs:        d.Runs,
			SuccessRate: utils.SafeRatio(float64(d.SuccessfulRuns), float64(d.Runs)),
			AvgDuration: d.AvgDuration,
		})
	}
	for _, g := range tools {
		resp.TopTools = append(resp.TopTools, ToolCount{
			Tool:        g.Name,
			Runs:        g.Runs,
			SuccessRate: utils.SafeRatio(float64(g.SuccessfulRuns), float64(g.Runs)),
		})
	}
	for _, g := range scenarios {
		resp.TopScenarios = append(resp.TopScenarios, ScenarioCount{
			Scenario:    g.Name,
			Runs:        g.Runs,
			SuccessRate: utils.SafeRatio(float64(g.SuccessfulRuns), float64(g.Runs)),
		})
	}

	return resp, nil
}

func invalidPeriod() error {
	return utils.NewValidationError("INVALID_PERIOD", "period must be one of week, month, quarter, year")
}

func aggregateError(err error) error {
	return utils.NewPersistenceError("AGGREGATE_STATS_ERROR", "Failed to get aggregate statistics", err)
}
