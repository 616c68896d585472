// Package ratelimit enforces per-key request quotas.
//
// Each key owns one fixed one-hour window. The window starts with the first
// request after the previous one expired and is not continuously sliding, so
// a client can spend a full quota at the end of one window and another at
// the start of the next.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/utils"
)

const (
	// Window is the accounting period for every key
	Window = time.Hour

	// DefaultRetention is how long window rows are kept by Cleanup
	DefaultRetention = 24 * time.Hour
)

// WindowStore persists per-key windows. Increment must be atomic with
// respect to concurrent callers for the same key.
type WindowStore interface {
	Increment(ctx context.Context, keyID string, limit int, now, windowAfter time.Time) (*models.RateLimitWindow, bool, error)
	Get(ctx context.Context, keyID string, windowAfter time.Time) (*models.RateLimitWindow, error)
	Delete(ctx context.Context, keyID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result is the outcome of a Check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set when denied
	FailedOpen bool
}

// Status is the read-only view served to clients
type Status struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     string `json:"reset"`
	Window    string `json:"window"`
}

// Limiter applies the fixed-window policy on top of a WindowStore
type Limiter struct {
	store    WindowStore
	clock    clock.Clock
	failOpen bool
	logger   *utils.Logger
}

// NewLimiter creates a limiter. With failOpen set, a store failure allows
// the request instead of rejecting it.
func NewLimiter(store WindowStore, clk clock.Clock, failOpen bool) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{
		store:    store,
		clock:    clk,
		failOpen: failOpen,
		logger:   utils.NewLogger("rate-limiter"),
	}
}

// Check consumes one request from keyID's window
func (l *Limiter) Check(ctx context.Context, keyID string, limit int) (Result, error) {
	now := l.clock.Now()

	w, allowed, err := l.store.Increment(ctx, keyID, limit, now, now.Add(-Window))
	if err != nil {
		if l.failOpen {
			l.logger.Warn("Rate limit check failed, allowing request", "key_id", keyID, "error", err)
			return Result{
				Allowed:    true,
				Limit:      limit,
				Remaining:  max(limit-1, 0),
				ResetAt:    now.Add(Window),
				FailedOpen: true,
			}, nil
		}
		l.logger.Error("Rate limit check failed", "key_id", keyID, "error", err)
		return Result{Limit: limit, ResetAt: now.Add(Window)}, fmt.Errorf("rate limit check: %w", err)
	}

	resetAt := w.WindowStart.Add(Window)
	result := Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-w.RequestCount, 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		result.Remaining = 0
		result.RetryAfter = retryAfter(now, resetAt)
	}
	return result, nil
}

// Status reports keyID's window without consuming a request
func (l *Limiter) Status(ctx context.Context, keyID string, limit int) Status {
	now := l.clock.Now()
	status := Status{
		Limit:     limit,
		Remaining: limit,
		Reset:     now.Add(Window).Format(time.RFC3339),
		Window:    fmt.Sprintf("%ds", int(Window.Seconds())),
	}

	w, err := l.store.Get(ctx, keyID, now.Add(-Window))
	if err != nil {
		l.logger.Warn("Rate limit status lookup failed", "key_id", keyID, "error", err)
		return status
	}
	if w != nil {
		status.Remaining = max(limit-w.RequestCount, 0)
		status.Reset = w.WindowStart.Add(Window).Format(time.RFC3339)
	}
	return status
}

// Reset clears keyID's window
func (l *Limiter) Reset(ctx context.Context, keyID string) error {
	if err := l.store.Delete(ctx, keyID); err != nil {
		l.logger.Error("Rate limit reset failed", "key_id", keyID, "error", err)
		return err
	}
	l.logger.Info("Rate limit reset", "key_id", keyID)
	return nil
}

// Cleanup removes windows that started more than retention ago
func (l *Limiter) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	removed, err := l.store.DeleteOlderThan(ctx, l.clock.Now().Add(-retention))
	if err != nil {
		l.logger.Error("Rate limit cleanup failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		l.logger.Debug("Removed stale rate limit windows", "count", removed)
	}
	return removed, nil
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
