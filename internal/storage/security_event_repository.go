package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"agentprobe_api/internal/models"
)

// SecurityEventRepository is the append-only audit store
type SecurityEventRepository struct {
	db *DB
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB) *SecurityEventRepository {
	return &SecurityEventRepository{
		db: db,
	}
}

const insertSecurityEvent = `
	INSERT INTO security_events (event_type, key_id, ip_address, user_agent, endpoint, timestamp, details)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// Insert appends one event
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	if err := r.insert(ctx, r.db.conn, event); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// InsertBatch appends events in a single transaction
func (r *SecurityEventRepository) InsertBatch(ctx context.Context, events []*models.SecurityEvent) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, event := range events {
		if err := r.insert(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert security event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SecurityEventRepository) insert(ctx context.Context, ex sqlx.ExecerContext, event *models.SecurityEvent) error {
	_, err := ex.ExecContext(ctx, r.db.q(insertSecurityEvent),
		event.EventType, event.KeyID, event.IPAddress, event.UserAgent, event.Endpoint, event.Timestamp, event.Details,
	)
	return err
}

// List returns events newest first. The event type must already be validated.
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	query := `SELECT id, event_type, key_id, ip_address, user_agent, endpoint, timestamp, details FROM security_events`
	var args []interface{}
	if filter.EventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, filter.EventType)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var events []*models.SecurityEvent
	if err := r.db.conn.SelectContext(ctx, &events, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	for _, e := range events {
		utcEvent(e)
	}
	return events, nil
}
