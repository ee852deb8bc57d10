// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mgoodale/webscout/internal/research"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan research.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan research.QueueItem, capacity),
	}
}

var _ research.Queue = (*Queue)(nil)

// Enqueue pushes an item into the queue or returns if the context ends.
// A full queue fails fast with ErrQueueFull instead of blocking the
// submission path.
func (q *Queue) Enqueue(ctx context.Context, item research.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	default:
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return research.ErrQueueFull
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (research.QueueItem, error) {
	select {
	case <-ctx.Done():
		return research.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return research.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	close(q.ch)
	q.closed = true
	return nil
}
