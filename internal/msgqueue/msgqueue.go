package msgqueue

import (
	"context"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// Delivery is one queued inbound message awaiting engine processing.
type Delivery struct {
	ID      string
	Message api.InboundMessage

	EnqueuedAt time.Time

	// NotBefore is the earliest time this delivery should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time

	// Attempts counts how many times a dispatcher has picked this
	// delivery up. Redelivery is safe: the engine's concurrency guard
	// rejects a message id it has already consumed.
	Attempts int
}

// Queue is a simple async inbound-message queue interface.
type Queue interface {
	// Enqueue adds a delivery to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, d Delivery) error

	// Dequeue removes and returns the next delivery, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Len returns the approximate number of deliveries queued.
	Len() int
}
