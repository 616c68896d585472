package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agentprobe_api/internal/clock"
)

func TestIPLimiter_Allow(t *testing.T) {
	clk := clock.NewFake(start)
	limiter := NewIPLimiter(IPLimiterConfig{Limit: 3, Window: time.Hour}, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"))
	}
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "other IPs are unaffected")

	clk.Advance(time.Hour)
	assert.False(t, limiter.Allow("10.0.0.1"), "window is still live at its reset instant")

	clk.Advance(time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestIPLimiter_Defaults(t *testing.T) {
	limiter := NewIPLimiter(IPLimiterConfig{}, nil)
	assert.Equal(t, 1000, limiter.config.Limit)
	assert.Equal(t, time.Hour, limiter.config.Window)
}

func TestIPLimiter_Burst(t *testing.T) {
	clk := clock.NewFake(start)
	limiter := NewIPLimiter(IPLimiterConfig{Limit: 100, Window: time.Hour, BurstPerSecond: 1, Burst: 2}, clk)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "bucket drained")

	clk.Advance(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"), "one token refilled")
}

func TestIPLimiter_Cleanup(t *testing.T) {
	clk := clock.NewFake(start)
	limiter := NewIPLimiter(IPLimiterConfig{Limit: 10, Window: time.Hour}, clk)

	limiter.Allow("10.0.0.1")
	clk.Advance(30 * time.Minute)
	limiter.Allow("10.0.0.2")
	assert.Equal(t, 2, limiter.Len())

	clk.Advance(31 * time.Minute)
	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 1, limiter.Len())
}

func TestIPLimiter_Concurrent(t *testing.T) {
	limiter := NewIPLimiter(IPLimiterConfig{Limit: 50, Window: time.Hour}, clock.NewFake(start))

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := map[string]int{}
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.0.%d", i%2)
			if limiter.Allow(ip) {
				mu.Lock()
				allowed[ip]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, allowed["10.0.0.0"])
	assert.Equal(t, 50, allowed["10.0.0.1"])
}
