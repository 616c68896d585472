package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue[testEvent](DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	if err := q.Enqueue(ctx, testEvent{Name: "auth_failure", Count: 1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Name != "auth_failure" {
		t.Errorf("Expected auth_failure, got %s", items[0].Name)
	}
}

func TestMemoryQueue_MultipleBatch(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 5
	q := NewMemoryQueue[int](config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	first, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("Expected 5 items, got %d", len(first))
	}

	second, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(second) != 5 {
		t.Fatalf("Expected 5 items, got %d", len(second))
	}

	// FIFO order
	if first[0] != 0 || second[4] != 9 {
		t.Errorf("Unexpected order: %v %v", first, second)
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	start := time.Now()
	items, err := q.DequeueWithTimeout(ctx, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty batch, got %d items", len(items))
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Errorf("Returned before timeout")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Enqueue(ctx, 42)
	}()

	items, err = q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 1 || items[0] != 42 {
		t.Errorf("Expected [42], got %v", items)
	}
}

func TestMemoryQueue_TryEnqueueFull(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 1
	q := NewMemoryQueue[int](config)

	for i := 0; i < 10; i++ {
		if err := q.TryEnqueue(i); err != nil {
			t.Fatalf("TryEnqueue %d failed: %v", i, err)
		}
	}

	if err := q.TryEnqueue(10); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	q.Close()
	if err := q.TryEnqueue(11); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryQueue_Length(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = q.Enqueue(ctx, i)
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 3 {
		t.Errorf("Expected length 3, got %d", length)
	}
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = q.Enqueue(ctx, p*10+i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for len(seen) < 100 {
		items, err := q.DequeueWithTimeout(ctx, 25, time.Second)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if len(items) == 0 {
			t.Fatalf("Queue drained early, saw %d items", len(seen))
		}
		for _, item := range items {
			seen[item] = true
		}
	}
}

func TestMemoryQueue_ClosedQueue(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	ctx := context.Background()

	_ = q.Enqueue(ctx, 1)
	q.Close()

	if err := q.Enqueue(ctx, 2); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}

	// Buffered items are still handed out alongside the closed error
	items, err := q.Dequeue(ctx, 10)
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 drained item, got %d", len(items))
	}
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestMemoryDeadLetterQueue_AddList(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[testEvent]()
	defer dlq.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := dlq.Add(ctx, testEvent{Name: "e", Count: i}, errors.New("insert failed")); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	items, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	if items[0].Error != "insert failed" || items[0].ID == "" {
		t.Errorf("Unexpected item: %+v", items[0])
	}
	if items[2].Item.Count != 2 {
		t.Errorf("Expected oldest first, got %+v", items)
	}

	limited, _ := dlq.List(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("Expected 2 items, got %d", len(limited))
	}
}

func TestMemoryDeadLetterQueue_Remove(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[testEvent]()
	defer dlq.Close()

	ctx := context.Background()
	_ = dlq.Add(ctx, testEvent{Name: "a"}, nil)
	_ = dlq.Add(ctx, testEvent{Name: "b"}, nil)

	items, _ := dlq.List(ctx, 10)
	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	remaining, _ := dlq.List(ctx, 10)
	if len(remaining) != 1 || remaining[0].Item.Name != "b" {
		t.Errorf("Unexpected remaining items: %+v", remaining)
	}

	if err := dlq.Remove(ctx, "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestMemoryDeadLetterQueue_Closed(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[testEvent]()
	dlq.Close()

	ctx := context.Background()
	if err := dlq.Add(ctx, testEvent{}, nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed on Add, got %v", err)
	}
	if _, err := dlq.List(ctx, 1); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed on List, got %v", err)
	}
}
