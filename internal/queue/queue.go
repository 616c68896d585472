// Package queue buffers items between request handlers and background
// writers. Two backends share the same generic interface:
//
//   - MemoryQueue: channel based, lost on restart, no dependencies.
//   - RedisQueue: Redis list based, survives restarts and can be drained by
//     any replica. Items travel as JSON.
//
// Failed items end up in a DeadLetterQueue for inspection.
package queue

import (
	"context"
	"time"
)

// Queue defines the interface for message queuing
type Queue[T any] interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item T) error

	// Dequeue blocks until at least one item is available, then returns up to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]T, error)

	// DequeueWithTimeout returns up to maxItems, or an empty slice if none arrive before timeout
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items that could not be processed
type DeadLetterQueue[T any] interface {
	Add(ctx context.Context, item T, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// EnqueueTimeout bounds how long a producer waits for queue capacity
	EnqueueTimeout time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:      100,
		BatchTimeout:   5 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   1 * time.Second,
		EnqueueTimeout: 50 * time.Millisecond,
		QueueName:      queueName,
	}
}
