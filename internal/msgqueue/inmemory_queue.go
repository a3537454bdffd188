package msgqueue

import (
	"context"
	"time"
)

// InMemoryQueue is a simple Queue implementation backed by a buffered channel.
// It is safe for concurrent use.
type InMemoryQueue struct {
	ch chan Delivery
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch: make(chan Delivery, capacity),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, d Delivery) error {
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a delivery is available and its NotBefore, if set,
// has passed. The delay keeps redelivered messages from hot-looping
// through the dispatcher, matching the durable queue's claim rule.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case d := <-q.ch:
		if wait := time.Until(d.NotBefore); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				// Best-effort requeue so cancellation does not eat the
				// delivery.
				select {
				case q.ch <- d:
				default:
				}
				return nil, ctx.Err()
			}
		}
		return &d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch)
}
