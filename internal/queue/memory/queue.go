// Package memory provides the bounded in-memory region queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan pricedb.RegionTask
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan pricedb.RegionTask, capacity),
	}
}

// Enqueue pushes a task, blocking while the queue is full. It fails with
// pricedb.ErrQueueClosed after Close; Close waits for in-flight Enqueue calls.
func (q *Queue) Enqueue(ctx context.Context, task pricedb.RegionTask) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return pricedb.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task. Once the queue is closed and drained it
// returns pricedb.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (pricedb.RegionTask, error) {
	select {
	case <-ctx.Done():
		return pricedb.RegionTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return pricedb.RegionTask{}, pricedb.ErrQueueClosed
		}
		return task, nil
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further enqueues; buffered tasks remain dequeueable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
