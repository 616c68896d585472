package maintenance

import (
	"context"
	"time"
)

type windowCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type keyExpirer interface {
	CleanupExpiredKeys(ctx context.Context) (int64, error)
}

// RateLimitTask deletes rate limit windows older than retention.
func RateLimitTask(limiter windowCleaner, retention time.Duration) Task {
	return Task{
		Name: "rate_limits",
		Run: func(ctx context.Context) (int64, error) {
			return limiter.Cleanup(ctx, retention)
		},
	}
}

// ExpiredKeysTask deactivates keys past their expiry.
func ExpiredKeysTask(registry keyExpirer) Task {
	return Task{
		Name: "expired_keys",
		Run:  registry.CleanupExpiredKeys,
	}
}

// SweepTask wraps an in-memory sweep such as the IP limiter or an LRU cache.
func SweepTask(name string, sweep func() int) Task {
	return Task{
		Name: name,
		Run: func(context.Context) (int64, error) {
			return int64(sweep()), nil
		},
	}
}
