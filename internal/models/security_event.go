package models

import "time"

// SecurityEvent is one append-only audit record. Empty strings mean the
// attribute was not known when the event was recorded.
type SecurityEvent struct {
	ID        int64     `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"`
	KeyID     string    `db:"key_id" json:"key_id,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	Endpoint  string    `db:"endpoint" json:"endpoint,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Details   JSONMap   `db:"details" json:"details,omitempty"`
}

// SecurityEventFilter selects events for the audit query.
type SecurityEventFilter struct {
	EventType string
	Limit     int
	Offset    int
}
