package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/ratelimit"
	"agentprobe_api/internal/registry"
	"agentprobe_api/internal/storage/storagetest"
)

func TestRunOnceWiredComponents(t *testing.T) {
	db := storagetest.NewDB(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	limiter := ratelimit.NewLimiter(db.NewRateLimitRepository(), clk, true)
	ipLimiter := ratelimit.NewIPLimiter(ratelimit.DefaultIPLimiterConfig(), clk)
	reg := registry.New(db.NewAPIKeyRepository(), clk)

	expiry := start.Add(time.Hour)
	created, err := reg.Create(ctx, registry.CreateRequest{Name: "short lived", ExpiresAt: &expiry}, "")
	require.NoError(t, err)
	_, err = limiter.Check(ctx, created.KeyID, 10)
	require.NoError(t, err)
	ipLimiter.Allow("198.51.100.1")
	ipLimiter.Allow("198.51.100.2")

	clk.Advance(48 * time.Hour)

	job := NewJob(0,
		RateLimitTask(limiter, 24*time.Hour),
		SweepTask("ip_limits", ipLimiter.Cleanup),
		ExpiredKeysTask(reg),
		SweepTask("api_key_cache", db.CleanupExpiredCacheEntries),
	)
	report := job.RunOnce(ctx)

	require.Len(t, report.Tasks, 4)
	assert.False(t, report.Failed())
	assert.Equal(t, TaskResult{Name: "rate_limits", Removed: 1}, report.Tasks[0])
	assert.Equal(t, TaskResult{Name: "ip_limits", Removed: 2}, report.Tasks[1])
	assert.Equal(t, TaskResult{Name: "expired_keys", Removed: 1}, report.Tasks[2])
	assert.Equal(t, "api_key_cache", report.Tasks[3].Name)

	info, err := reg.Get(ctx, created.KeyID)
	require.NoError(t, err)
	assert.False(t, info.IsActive)
	assert.Zero(t, ipLimiter.Len())
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	var ran []string
	job := NewJob(0,
		Task{Name: "broken", Run: func(context.Context) (int64, error) {
			ran = append(ran, "broken")
			return 0, errors.New("database is locked")
		}},
		Task{Name: "fine", Run: func(context.Context) (int64, error) {
			ran = append(ran, "fine")
			return 3, nil
		}},
	)

	report := job.RunOnce(context.Background())
	assert.True(t, report.Failed())
	assert.Equal(t, []string{"broken", "fine"}, ran)
	assert.Equal(t, "cleanup failed", report.Tasks[0].Error)
	assert.NotContains(t, report.Tasks[0].Error, "locked")
	assert.Equal(t, int64(3), report.Tasks[1].Removed)
}

func TestJobLoop(t *testing.T) {
	var runs atomic.Int32
	job := NewJob(10*time.Millisecond, SweepTask("count", func() int {
		runs.Add(1)
		return 0
	}))

	job.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	job.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestJobDisabled(t *testing.T) {
	var runs atomic.Int32
	job := NewJob(0, SweepTask("count", func() int {
		runs.Add(1)
		return 0
	}))

	job.Start(context.Background())
	job.Stop()
	assert.Zero(t, runs.Load())

	NewJob(time.Minute).Stop()
}
