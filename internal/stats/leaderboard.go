package stats

import (
	"context"
	"math"
	"sort"

	"agentprobe_api/internal/utils"
)

const (
	// MinLeaderboardRuns is the sample size a tool needs to be ranked.
	MinLeaderboardRuns = 3

	// success rates closer than this are ranked by volume instead
	leaderboardTieTolerance = 0.01
)

// LeaderboardEntry is one ranked tool.
type LeaderboardEntry struct {
	Tool        string  `json:"tool"`
	TotalRuns   int     `json:"total_runs"`
	SuccessRate float64 `json:"success_rate"`
}

// Leaderboard ranks tools with at least MinLeaderboardRuns runs by success
// rate. Rates within 0.01 of each other rank by total runs.
func (a *Aggregator) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	totals, err := a.rollups.ToolTotals(ctx, MinLeaderboardRuns)
	if err != nil {
		return nil, utils.NewPersistenceError("LEADERBOARD_ERROR", "Failed to get leaderboard", err)
	}

	entries := make([]LeaderboardEntry, 0, len(totals))
	for _, t := range totals {
		if t.TotalRuns <= 0 {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Tool:        t.Tool,
			TotalRuns:   t.TotalRuns,
			SuccessRate: utils.SafeRatio(float64(t.SuccessfulRuns), float64(t.TotalRuns)),
		})
	}

	rankLeaderboard(entries)
	return entries, nil
}

func rankLeaderboard(entries []LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Tool < entries[j].Tool
	})
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if math.Abs(a.SuccessRate-b.SuccessRate) < leaderboardTieTolerance {
			return a.TotalRuns > b.TotalRuns
		}
		return a.SuccessRate > b.SuccessRate
	})
}
