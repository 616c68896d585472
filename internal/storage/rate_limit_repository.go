package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentprobe_api/internal/models"
)

// maxWindowAttempts bounds the compare-and-set loop in Increment.
const maxWindowAttempts = 3

// RateLimitRepository stores one fixed window row per key
type RateLimitRepository struct {
	db *DB
}

// NewRateLimitRepository creates a new rate limit window repository
func NewRateLimitRepository(db *DB) *RateLimitRepository {
	return &RateLimitRepository{
		db: db,
	}
}

// Increment consumes one request from keyID's window. A window is live when
// its start is after windowAfter; otherwise it is re-armed at now.
// Every step is a single conditional statement, so concurrent callers never
// push the count past limit.
func (r *RateLimitRepository) Increment(ctx context.Context, keyID string, limit int, now, windowAfter time.Time) (*models.RateLimitWindow, bool, error) {
	bump := r.db.q(`
		UPDATE rate_limits
		SET request_count = request_count + 1, last_request = ?
		WHERE key_id = ? AND window_start > ? AND request_count < ?
		RETURNING id, key_id, window_start, request_count, last_request
	`)
	rearm := r.db.q(`
		INSERT INTO rate_limits (key_id, window_start, request_count, last_request)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (key_id) DO UPDATE
		SET window_start = excluded.window_start, request_count = 1, last_request = excluded.last_request
		WHERE rate_limits.window_start <= ?
		RETURNING id, key_id, window_start, request_count, last_request
	`)

	for attempt := 0; attempt < maxWindowAttempts; attempt++ {
		var w models.RateLimitWindow

		err := r.db.conn.GetContext(ctx, &w, bump, now, keyID, windowAfter, limit)
		if err == nil {
			utcWindow(&w)
			return &w, true, nil
		}
		if err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("failed to increment rate limit window: %w", err)
		}

		err = r.db.conn.GetContext(ctx, &w, rearm, keyID, now, now, windowAfter)
		if err == nil {
			utcWindow(&w)
			return &w, true, nil
		}
		if err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("failed to start rate limit window: %w", err)
		}

		// A live window exists and could not be bumped: either it is full or
		// another request moved it between the two statements.
		current, err := r.Get(ctx, keyID, windowAfter)
		if err != nil {
			return nil, false, err
		}
		if current != nil && current.RequestCount >= limit {
			return current, false, nil
		}
	}

	return nil, false, ErrWindowContention
}

// Get returns keyID's live window, or nil when there is none
func (r *RateLimitRepository) Get(ctx context.Context, keyID string, windowAfter time.Time) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	query := r.db.q(`
		SELECT id, key_id, window_start, request_count, last_request
		FROM rate_limits
		WHERE key_id = ? AND window_start > ?
	`)

	err := r.db.conn.GetContext(ctx, &w, query, keyID, windowAfter)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate limit window: %w", err)
	}
	utcWindow(&w)
	return &w, nil
}

// Delete removes keyID's window
func (r *RateLimitRepository) Delete(ctx context.Context, keyID string) error {
	if _, err := r.db.conn.ExecContext(ctx, r.db.q(`DELETE FROM rate_limits WHERE key_id = ?`), keyID); err != nil {
		return fmt.Errorf("failed to reset rate limit window: %w", err)
	}
	return nil
}

// DeleteOlderThan removes windows that started before cutoff
func (r *RateLimitRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx, r.db.q(`DELETE FROM rate_limits WHERE window_start < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up rate limit windows: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
