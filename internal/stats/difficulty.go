package stats

import (
	"context"
	"math"
	"sort"

	"agentprobe_api/internal/utils"
)

// MinDifficultyRuns is the sample size a scenario needs to be scored.
const MinDifficultyRuns = 5

const (
	successWeight  = 0.4
	durationWeight = 0.3
	frictionWeight = 0.2
	volumeWeight   = 0.1
)

// DifficultyScore returns a 0-100 score, higher meaning harder. Duration is
// in seconds and capped at ten minutes, friction at ten points.
func DifficultyScore(successRate, avgDurationSeconds, avgFrictionPoints float64, totalRuns int) float64 {
	successScore := (1 - successRate) * 100
	durationScore := math.Min(avgDurationSeconds/60, 10) * 10
	frictionScore := math.Min(avgFrictionPoints, 10) * 10
	volumeScore := math.Min(float64(totalRuns)/100, 1) * 10

	return successScore*successWeight +
		durationScore*durationWeight +
		frictionScore*frictionWeight +
		volumeScore*volumeWeight
}

// ScenarioDifficulty is one ranked scenario. AvgSuccessRate is a percentage.
type ScenarioDifficulty struct {
	Scenario           string  `json:"scenario"`
	DifficultyScore    float64 `json:"difficulty_score"`
	TotalRuns          int     `json:"total_runs"`
	AvgSuccessRate     float64 `json:"avg_success_rate"`
	AvgDuration        float64 `json:"avg_duration"`
	FrictionPointCount float64 `json:"friction_point_count"`
	ToolsTested        int     `json:"tools_tested"`
}

type Methodology struct {
	Factors     []string `json:"factors"`
	Description string   `json:"description"`
}

type DifficultyRanking struct {
	Scenarios   []ScenarioDifficulty `json:"scenarios"`
	Methodology Methodology          `json:"methodology"`
}

var difficultyMethodology = Methodology{
	Factors: []string{
		"Success rate (40% weight)",
		"Average duration (30% weight)",
		"Friction point frequency (20% weight)",
		"Test volume reliability (10% weight)",
	},
	Description: "Difficulty score ranges from 0-100, where higher scores indicate more challenging scenarios. " +
		"Requires minimum 5 test runs for inclusion.",
}

// Difficulty ranks scenarios with at least MinDifficultyRuns runs, hardest first.
func (a *Aggregator) Difficulty(ctx context.Context) (*DifficultyRanking, error) {
	rows, err := a.results.ScenarioAggregates(ctx, MinDifficultyRuns)
	if err != nil {
		return nil, utils.NewPersistenceError("DIFFICULTY_RANKING_ERROR", "Failed to get scenario difficulty ranking", err)
	}

	ranking := &DifficultyRanking{
		Scenarios:   make([]ScenarioDifficulty, 0, len(rows)),
		Methodology: difficultyMethodology,
	}
	for _, row := range rows {
		if row.TotalRuns < MinDifficultyRuns {
			continue
		}
		rate := utils.SafeRatio(float64(row.SuccessfulRuns), float64(row.TotalRuns))
		ranking.Scenarios = append(ranking.Scenarios, ScenarioDifficulty{
			Scenario:           row.Scenario,
			DifficultyScore:    utils.Round(DifficultyScore(rate, row.AvgDuration, row.AvgFrictionPoints, row.TotalRuns), 2),
			TotalRuns:          row.TotalRuns,
			AvgSuccessRate:     utils.Round(rate*100, 2),
			AvgDuration:        utils.Round(row.AvgDuration, 2),
			FrictionPointCount: utils.Round(row.AvgFrictionPoints, 2),
			ToolsTested:        row.ToolsTested,
		})
	}

	sort.SliceStable(ranking.Scenarios, func(i, j int) bool {
		a, b := ranking.Scenarios[i], ranking.Scenarios[j]
		if a.DifficultyScore != b.DifficultyScore {
			return a.DifficultyScore > b.DifficultyScore
		}
		return a.Scenario < b.Scenario
	})
	return ranking, nil
}
