package models

import "time"

// RateLimitWindow is the counter for one key's current fixed window.
type RateLimitWindow struct {
	ID           int64     `db:"id"`
	KeyID        string    `db:"key_id"`
	WindowStart  time.Time `db:"window_start"`
	RequestCount int       `db:"request_count"`
	LastRequest  time.Time `db:"last_request"`
}
