// Package security records and queries the security audit trail.
//
// Writes are best-effort: a failing store is logged and never surfaces to
// the request that triggered the event.
package security

import (
	"context"
	"strconv"
	"strings"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/utils"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Store is the persistence the log needs.
type Store interface {
	Insert(ctx context.Context, event *models.SecurityEvent) error
	InsertBatch(ctx context.Context, events []*models.SecurityEvent) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
}

// Writer accepts a finished event. The store itself is the synchronous
// writer; QueueWriter buffers events for a background worker.
type Writer interface {
	Write(ctx context.Context, event *models.SecurityEvent) error
}

// ClientInfo describes the caller that triggered an event.
type ClientInfo struct {
	IPAddress string
	UserAgent string
	Endpoint  string
}

// Log is the security event log.
type Log struct {
	store  Store
	writer Writer
	clock  clock.Clock
	logger *utils.Logger
}

// NewLog creates a log writing synchronously to store.
func NewLog(store Store, clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Log{
		store:  store,
		writer: storeWriter{store: store},
		clock:  clk,
		logger: utils.NewLogger("security-log"),
	}
}

// SetWriter routes future events through w instead of the store.
func (l *Log) SetWriter(w Writer) {
	if w != nil {
		l.writer = w
	}
}

// Record appends one event. Failures are logged and swallowed.
func (l *Log) Record(ctx context.Context, eventType EventType, keyID string, client ClientInfo, details map[string]interface{}) {
	if !eventType.IsValid() {
		l.logger.Error("Refusing to record unknown security event type", "event_type", string(eventType))
		return
	}

	event := &models.SecurityEvent{
		EventType: eventType.String(),
		KeyID:     keyID,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Endpoint:  client.Endpoint,
		Timestamp: l.clock.Now(),
		Details:   models.JSONMap(details),
	}

	if err := l.writer.Write(ctx, event); err != nil {
		l.logger.Warn("Failed to record security event",
			"event_type", event.EventType,
			"key_id", keyID,
			"error", err,
		)
	}
}

// ParseQuery normalises raw audit query parameters. A non-numeric or
// non-positive limit becomes the default, a large one is capped, a bad
// offset becomes zero. An event type outside the taxonomy is rejected.
func ParseQuery(limit, offset, eventType string) (models.SecurityEventFilter, error) {
	filter := models.SecurityEventFilter{Limit: DefaultQueryLimit}

	if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil && n >= 1 {
		filter.Limit = n
		if n > MaxQueryLimit {
			filter.Limit = MaxQueryLimit
		}
	}

	if n, err := strconv.Atoi(strings.TrimSpace(offset)); err == nil && n > 0 {
		filter.Offset = n
	}

	if eventType != "" {
		t, ok := ParseEventType(eventType)
		if !ok {
			return filter, invalidEventType()
		}
		filter.EventType = t.String()
	}

	return filter, nil
}

// Query returns events newest first. The filter's event type is checked
// against the taxonomy again here so no caller can reach the store with an
// arbitrary value. A store failure is itself recorded as
// security_events_error on behalf of requesterKeyID.
func (l *Log) Query(ctx context.Context, filter models.SecurityEventFilter, requesterKeyID string, client ClientInfo) ([]*models.SecurityEvent, error) {
	if filter.EventType != "" {
		if _, ok := ParseEventType(filter.EventType); !ok {
			return nil, invalidEventType()
		}
	}
	if filter.Limit < 1 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, err := l.store.List(ctx, filter)
	if err != nil {
		l.logger.Error("Failed to query security events", "error", err)
		l.Record(ctx, EventSecurityEventsError, requesterKeyID, client, map[string]interface{}{
			"error":     "database_error",
			"timestamp": l.clock.Now().Format("2006-01-02T15:04:05.000Z07:00"),
		})
		return nil, utils.NewPersistenceError("SECURITY_EVENTS_ERROR", "An error occurred while retrieving security events", err)
	}

	return events, nil
}

func invalidEventType() error {
	return utils.NewValidationError("INVALID_EVENT_TYPE", "event_type must be one of: "+joinEventTypes())
}

func joinEventTypes() string {
	names := make([]string, len(AllEventTypes))
	for i, t := range AllEventTypes {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

type storeWriter struct {
	store Store
}

func (w storeWriter) Write(ctx context.Context, event *models.SecurityEvent) error {
	return w.store.Insert(ctx, event)
}
