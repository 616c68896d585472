package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agentprobe_api/internal/clock"
)

// IPLimiterConfig configures the pre-auth IP guard
type IPLimiterConfig struct {
	Limit  int
	Window time.Duration

	// BurstPerSecond and Burst add a token bucket per IP on top of the
	// window count. Zero disables it.
	BurstPerSecond float64
	Burst          int
}

// DefaultIPLimiterConfig allows 1000 requests per IP per hour
func DefaultIPLimiterConfig() IPLimiterConfig {
	return IPLimiterConfig{
		Limit:  1000,
		Window: time.Hour,
	}
}

type ipEntry struct {
	count   int
	resetAt time.Time
	bucket  *rate.Limiter
}

// IPLimiter is a process-local coarse abuse filter. Its state is not shared
// between instances and does not survive a restart.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	config  IPLimiterConfig
	clock   clock.Clock
}

// NewIPLimiter creates an IP limiter
func NewIPLimiter(config IPLimiterConfig, clk clock.Clock) *IPLimiter {
	if config.Limit <= 0 {
		config.Limit = DefaultIPLimiterConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = DefaultIPLimiterConfig().Window
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &IPLimiter{
		entries: make(map[string]*ipEntry),
		config:  config,
		clock:   clk,
	}
}

// Allow counts one request from ip and reports whether it may proceed
func (l *IPLimiter) Allow(ip string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[ip]
	if !ok {
		entry = &ipEntry{bucket: l.newBucket()}
		l.entries[ip] = entry
	}

	if entry.resetAt.IsZero() || now.After(entry.resetAt) {
		entry.count = 0
		entry.resetAt = now.Add(l.config.Window)
	}

	if entry.count >= l.config.Limit {
		return false
	}
	if entry.bucket != nil && !entry.bucket.AllowN(now, 1) {
		return false
	}

	entry.count++
	return true
}

// Cleanup drops entries whose window has passed and returns how many
func (l *IPLimiter) Cleanup() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, entry := range l.entries {
		if now.After(entry.resetAt) {
			delete(l.entries, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *IPLimiter) newBucket() *rate.Limiter {
	if l.config.BurstPerSecond <= 0 || l.config.Burst <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(l.config.BurstPerSecond), l.config.Burst)
}
