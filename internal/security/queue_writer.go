package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agentprobe_api/internal/models"
	"agentprobe_api/internal/queue"
	"agentprobe_api/internal/utils"
)

// QueueWriter buffers security events in a queue and persists them in
// batches from a background goroutine.
type QueueWriter struct {
	queue       queue.Queue[*models.SecurityEvent]
	dlq         queue.DeadLetterQueue[*models.SecurityEvent]
	store       Store
	config      *queue.Config
	logger      *utils.Logger
	startOnce   sync.Once
	stopOnce    sync.Once
	started     atomic.Bool
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewQueueWriter creates a queue-backed writer. dlq may be nil.
func NewQueueWriter(q queue.Queue[*models.SecurityEvent], dlq queue.DeadLetterQueue[*models.SecurityEvent], store Store, config *queue.Config) *QueueWriter {
	if config == nil {
		config = queue.DefaultConfig("security_events")
	}

	return &QueueWriter{
		queue:       q,
		dlq:         dlq,
		store:       store,
		config:      config,
		logger:      utils.NewLogger("security-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Write enqueues the event without holding up the request. A memory queue
// with no room drops it immediately; any other queue gets EnqueueTimeout.
func (w *QueueWriter) Write(ctx context.Context, event *models.SecurityEvent) error {
	if q, ok := w.queue.(interface {
		TryEnqueue(*models.SecurityEvent) error
	}); ok {
		return q.TryEnqueue(event)
	}

	timeout := w.config.EnqueueTimeout
	if timeout <= 0 {
		timeout = queue.DefaultConfig("").EnqueueTimeout
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := w.queue.Enqueue(enqueueCtx, event)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: gave up after %s", queue.ErrQueueFull, timeout)
	}
	return err
}

// Start starts the worker goroutine. Later calls are no-ops.
func (w *QueueWriter) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run(ctx)
	})
}

// Stop stops the worker and flushes what is still queued. A writer that was
// never started has nothing to wait for.
func (w *QueueWriter) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	if !w.started.Load() {
		return nil
	}
	<-w.stoppedChan
	return nil
}

func (w *QueueWriter) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Security event worker stopping")
			w.flush()
			return
		case <-ctx.Done():
			w.logger.Info("Security event worker context cancelled")
			w.flush()
			return
		default:
			w.processBatch(ctx, w.config.BatchTimeout)
		}
	}
}

// flush drains the queue after shutdown was requested
func (w *QueueWriter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		if n := w.processBatch(ctx, 10*time.Millisecond); n == 0 {
			return
		}
	}
}

// processBatch returns the number of events it took off the queue
func (w *QueueWriter) processBatch(ctx context.Context, timeout time.Duration) int {
	events, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil && !errors.Is(err, queue.ErrQueueClosed) {
		w.logger.Error("Failed to dequeue security events", "error", err)
		w.sleep(time.Second)
		return 0
	}

	if len(events) == 0 {
		return 0
	}

	w.logger.Debug("Processing security event batch", "count", len(events))

	if err := w.store.InsertBatch(ctx, events); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, event := range events {
			if err := w.processItem(ctx, event); err != nil {
				w.logger.Error("Failed to persist security event", "event_type", event.EventType, "error", err)
			}
		}
	}

	return len(events)
}

// processItem persists one event with exponential backoff, then gives it to the DLQ
func (w *QueueWriter) processItem(ctx context.Context, event *models.SecurityEvent) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying security event", "attempt", attempt, "backoff", backoff)
			w.sleep(backoff)
		}

		if err := w.store.Insert(ctx, event); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, event, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Security event moved to DLQ", "event_type", event.EventType, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// sleep waits for d unless the worker is stopping
func (w *QueueWriter) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopChan:
	}
}

// QueueLength returns the number of events waiting to be written
func (w *QueueWriter) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetterItems returns events that exhausted their retries
func (w *QueueWriter) DeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[*models.SecurityEvent], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem puts a dead-lettered event back on the queue
func (w *QueueWriter) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
