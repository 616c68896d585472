package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agentprobe_api/internal/models"
)

// incrementScript consumes one request from a window hash.
// KEYS[1] window key. ARGV: now_ms, cutoff_ms, limit, ttl_ms.
// Returns {window_start_ms, count, allowed, last_request_ms}.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cutoff = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local start = tonumber(redis.call('HGET', key, 'start') or '0')
local count = tonumber(redis.call('HGET', key, 'count') or '0')

if start <= cutoff then
  start = now
  count = 0
  redis.call('HSET', key, 'start', ARGV[1], 'count', 0, 'last', ARGV[1])
end

if count >= limit then
  local last = tonumber(redis.call('HGET', key, 'last') or now)
  return {start, count, 0, last}
end

count = redis.call('HINCRBY', key, 'count', 1)
redis.call('HSET', key, 'last', ARGV[1])
redis.call('PEXPIRE', key, ARGV[4])
return {start, count, 1, now}
`)

// RedisStore keeps windows in Redis hashes at "<prefix><keyID>". Keys
// expire on their own after the retention period.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a window store on a shared client
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{
		client:    client,
		prefix:    "ratelimit:",
		retention: retention,
	}
}

func (s *RedisStore) key(keyID string) string {
	return s.prefix + keyID
}

// Increment runs the window script atomically on the server
func (s *RedisStore) Increment(ctx context.Context, keyID string, limit int, now, windowAfter time.Time) (*models.RateLimitWindow, bool, error) {
	vals, err := incrementScript.Run(ctx, s.client,
		[]string{s.key(keyID)},
		now.UnixMilli(), windowAfter.UnixMilli(), limit, s.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment rate limit window: %w", err)
	}
	if len(vals) != 4 {
		return nil, false, fmt.Errorf("unexpected rate limit script reply: %v", vals)
	}

	return &models.RateLimitWindow{
		KeyID:        keyID,
		WindowStart:  time.UnixMilli(vals[0]).UTC(),
		RequestCount: int(vals[1]),
		LastRequest:  time.UnixMilli(vals[3]).UTC(),
	}, vals[2] == 1, nil
}

// Get returns keyID's live window, or nil when there is none
func (s *RedisStore) Get(ctx context.Context, keyID string, windowAfter time.Time) (*models.RateLimitWindow, error) {
	vals, err := s.client.HMGet(ctx, s.key(keyID), "start", "count", "last").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit window: %w", err)
	}

	start, ok := parseField(vals[0])
	if !ok || start <= windowAfter.UnixMilli() {
		return nil, nil
	}
	count, _ := parseField(vals[1])
	last, _ := parseField(vals[2])

	return &models.RateLimitWindow{
		KeyID:        keyID,
		WindowStart:  time.UnixMilli(start).UTC(),
		RequestCount: int(count),
		LastRequest:  time.UnixMilli(last).UTC(),
	}, nil
}

// Delete removes keyID's window
func (s *RedisStore) Delete(ctx context.Context, keyID string) error {
	if err := s.client.Del(ctx, s.key(keyID)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit window: %w", err)
	}
	return nil
}

// DeleteOlderThan scans window keys and removes the ones that started
// before cutoff. Expiry normally gets there first.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.HGet(ctx, key, "start").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to read rate limit window: %w", err)
		}
		start, ok := parseField(raw)
		if ok && start >= cutoff.UnixMilli() {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to clean up rate limit windows: %w", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan rate limit windows: %w", err)
	}
	return removed, nil
}

func parseField(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
