package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentprobe_api/internal/models"
	"agentprobe_api/internal/utils"
)

const (
	MinCompareTools = 2
	MaxCompareTools = 10

	topFrictionPoints = 5
	recentResultCount = 10
)

// Metric selects what the comparison matrix compares.
type Metric string

const (
	MetricSuccessRate Metric = "success_rate"
	MetricAvgDuration Metric = "avg_duration"
	MetricTotalRuns   Metric = "total_runs"
)

// ScenarioSummary is a tool's rollup for one scenario.
type ScenarioSummary struct {
	TotalRuns   int     `json:"total_runs"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration"`
}

// ToolSummary combines a tool's rollups across scenarios.
type ToolSummary struct {
	Tool                 string                     `json:"tool"`
	TotalRuns            int                        `json:"total_runs"`
	SuccessRate          float64                    `json:"success_rate"`
	AvgDuration          float64                    `json:"avg_duration"`
	CommonFrictionPoints []string                   `json:"common_friction_points"`
	Scenarios            map[string]ScenarioSummary `json:"scenarios"`
}

// ToolReport is the per-tool statistics response. Cost is not collected.
type ToolReport struct {
	ToolSummary
	AvgCost float64 `json:"avg_cost"`
}

// summarizeTool folds the tool's rollups, optionally restricted to scenario.
// rows reports how many rollups matched.
func (a *Aggregator) summarizeTool(ctx context.Context, tool, scenario string) (*ToolSummary, int, error) {
	rollups, err := a.rollups.ListToolStats(ctx, tool, scenario)
	if err != nil {
		return nil, 0, err
	}

	summary := &ToolSummary{
		Tool:                 tool,
		CommonFrictionPoints: []string{},
		Scenarios:            make(map[string]ScenarioSummary, len(rollups)),
	}

	var successful int
	var durationSum float64
	for _, s := range rollups {
		summary.TotalRuns += s.TotalRuns
		successful += s.SuccessfulRuns
		durationSum += s.AvgDuration * float64(s.TotalRuns)
		if s.Scenario != "" {
			summary.Scenarios[s.Scenario] = ScenarioSummary{
				TotalRuns:   s.TotalRuns,
				SuccessRate: s.SuccessRate,
				AvgDuration: s.AvgDuration,
			}
		}
	}
	summary.SuccessRate = utils.SafeRatio(float64(successful), float64(summary.TotalRuns))
	summary.AvgDuration = utils.SafeRatio(durationSum, float64(summary.TotalRuns))

	points, err := a.rollups.TopFrictionPoints(ctx, tool, topFrictionPoints)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range points {
		summary.CommonFrictionPoints = append(summary.CommonFrictionPoints, p.FrictionPoint)
	}

	return summary, len(rollups), nil
}

// ToolStats reports a tool's statistics across all scenarios.
func (a *Aggregator) ToolStats(ctx context.Context, tool string) (*ToolReport, error) {
	summary, rows, err := a.summarizeTool(ctx, tool, "")
	if err != nil {
		return nil, utils.NewPersistenceError("TOOL_STATS_ERROR", "Failed to get tool stats", err)
	}
	if rows == 0 {
		return nil, utils.NewNotFoundError("TOOL_NOT_FOUND", fmt.Sprintf("No results found for tool: %s", tool))
	}
	return &ToolReport{ToolSummary: *summary}, nil
}

// CompareRequest lists the tools to compare.
type CompareRequest struct {
	Tools    []string `json:"tools"`
	Scenario string   `json:"scenario,omitempty"`
	Metric   string   `json:"metric,omitempty"`
}

// Comparison holds each tool's summary and the pairwise ratio matrix.
type Comparison struct {
	Tools            []*ToolSummary                `json:"tools"`
	ComparisonMatrix map[string]map[string]float64 `json:"comparison_matrix"`
}

// Compare summarizes each tool and computes matrix[t1][t2] on the chosen
// metric. For avg_duration the ratio is inverted since lower is better.
func (a *Aggregator) Compare(ctx context.Context, req CompareRequest) (*Comparison, error) {
	if len(req.Tools) < MinCompareTools || len(req.Tools) > MaxCompareTools {
		return nil, utils.NewValidationError("INVALID_TOOLS", fmt.Sprintf("tools must list between %d and %d tools", MinCompareTools, MaxCompareTools))
	}
	seen := make(map[string]struct{}, len(req.Tools))
	for _, t := range req.Tools {
		if strings.TrimSpace(t) == "" {
			return nil, utils.NewValidationError("INVALID_TOOLS", "tool names must not be empty")
		}
		if _, dup := seen[t]; dup {
			return nil, utils.NewValidationError("INVALID_TOOLS", fmt.Sprintf("tool %q is listed more than once", t))
		}
		seen[t] = struct{}{}
	}

	metric := Metric(req.Metric)
	switch metric {
	case "":
		metric = MetricSuccessRate
	case MetricSuccessRate, MetricAvgDuration, MetricTotalRuns:
	default:
		return nil, utils.NewValidationError("INVALID_METRIC", "metric must be one of success_rate, avg_duration, total_runs")
	}

	comparison := &Comparison{
		Tools:            make([]*ToolSummary, 0, len(req.Tools)),
		ComparisonMatrix: make(map[string]map[string]float64, len(req.Tools)),
	}
	byTool := make(map[string]*ToolSummary, len(req.Tools))
	for _, tool := range req.Tools {
		summary, _, err := a.summarizeTool(ctx, tool, req.Scenario)
		if err != nil {
			return nil, utils.NewPersistenceError("TOOL_COMPARISON_ERROR", "Failed to compare tools", err)
		}
		comparison.Tools = append(comparison.Tools, summary)
		byTool[tool] = summary
	}

	for _, t1 := range req.Tools {
		row := make(map[string]float64, len(req.Tools))
		for _, t2 := range req.Tools {
			if t1 == t2 {
				row[t2] = 1
				continue
			}
			row[t2] = utils.Round(compareRatio(metric, byTool[t1], byTool[t2]), 2)
		}
		comparison.ComparisonMatrix[t1] = row
	}

	return comparison, nil
}

func compareRatio(metric Metric, a, b *ToolSummary) float64 {
	switch metric {
	case MetricAvgDuration:
		return utils.SafeRatio(b.AvgDuration, a.AvgDuration)
	case MetricTotalRuns:
		return utils.SafeRatio(float64(a.TotalRuns), float64(b.TotalRuns))
	default:
		return utils.SafeRatio(a.SuccessRate, b.SuccessRate)
	}
}

// ScenarioReport describes one (tool, scenario) pair.
type ScenarioReport struct {
	Tool          string           `json:"tool"`
	Scenario      string           `json:"scenario"`
	TotalRuns     int              `json:"total_runs"`
	SuccessRate   float64          `json:"success_rate"`
	AvgDuration   float64          `json:"avg_duration"`
	RecentResults []*models.Result `json:"recent_results"`
	CommonErrors  map[string]int   `json:"common_errors"`
	LastUpdated   *time.Time       `json:"last_updated"`
}

// ScenarioStats reports the rollup, the newest results and the error
// categories seen among them. Errors are grouped by the text before the
// first colon.
func (a *Aggregator) ScenarioStats(ctx context.Context, tool, scenario string) (*ScenarioReport, error) {
	recent, err := a.results.List(ctx, models.ResultFilter{Tool: tool, Scenario: scenario, Limit: recentResultCount})
	if err != nil {
		return nil, scenarioError(err)
	}
	if len(recent) == 0 {
		return nil, utils.NewNotFoundError("SCENARIO_NOT_FOUND", fmt.Sprintf("No results found for %s/%s", tool, scenario))
	}

	rollups, err := a.rollups.ListToolStats(ctx, tool, scenario)
	if err != nil {
		return nil, scenarioError(err)
	}

	report := &ScenarioReport{
		Tool:          tool,
		Scenario:      scenario,
		RecentResults: recent,
		CommonErrors:  make(map[string]int),
	}
	if len(rollups) > 0 {
		r := rollups[0]
		report.TotalRuns = r.TotalRuns
		report.SuccessRate = r.SuccessRate
		report.AvgDuration = r.AvgDuration
		lastUpdated := r.LastUpdated
		report.LastUpdated = &lastUpdated
	}

	for _, r := range recent {
		if r.Success || r.ErrorMessage == "" {
			continue
		}
		category, _, _ := strings.Cut(r.ErrorMessage, ":")
		report.CommonErrors[strings.TrimSpace(category)]++
	}

	return report, nil
}

func scenarioError(err error) error {
	return utils.NewPersistenceError("SCENARIO_STATS_ERROR", "Failed to get scenario stats", err)
}
