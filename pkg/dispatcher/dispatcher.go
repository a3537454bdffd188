// Package dispatcher decouples message intake from engine processing: an
// inbound webhook handler can enqueue and return immediately, while
// dispatcher goroutines drain the queue through the engine.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jpelkone/convoflow/internal/msgqueue"
	"github.com/jpelkone/convoflow/pkg/api"
)

// Config controls dispatcher behaviour.
type Config struct {
	// MaxAttempts is how many times a failing delivery is tried before it
	// is dropped. Includes the first attempt. Defaults to 3.
	MaxAttempts int

	// RetryDelay postpones a re-enqueued delivery. Defaults to 1s.
	RetryDelay time.Duration
}

// Dispatcher pulls message deliveries from a Queue and feeds them to an
// Engine. Redelivery after a crash is safe: the engine rejects message
// ids it already consumed.
type Dispatcher struct {
	engine      api.Engine
	queue       msgqueue.Queue
	maxAttempts int
	retryDelay  time.Duration
}

// New creates a Dispatcher with default config.
func New(engine api.Engine, queue msgqueue.Queue) *Dispatcher {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Dispatcher with the given config.
func NewWithConfig(engine api.Engine, queue msgqueue.Queue, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Dispatcher{
		engine:      engine,
		queue:       queue,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// Enqueue queues one inbound message for asynchronous processing.
func (d *Dispatcher) Enqueue(ctx context.Context, msg api.InboundMessage) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("inbound message needs id and conversation id")
	}
	return d.queue.Enqueue(ctx, msgqueue.Delivery{
		ID:         uuid.NewString(),
		Message:    msg,
		EnqueuedAt: time.Now(),
	})
}

// ProcessOne pulls a single delivery and hands it to the engine.
// Returns (processed, error):
//   - processed == false, err != nil: nothing was obtained (usually ctx cancelled)
//   - processed == true: a delivery was handled; err reports the engine outcome
//
// A delivery whose handling failed is re-enqueued with a delay until its
// attempt budget runs out; the error is returned either way so callers
// can log it.
func (d *Dispatcher) ProcessOne(ctx context.Context) (bool, error) {
	delivery, err := d.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	_, handleErr := d.engine.HandleMessage(ctx, delivery.Message)
	if handleErr == nil {
		return true, nil
	}

	delivery.Attempts++
	if delivery.Attempts < d.maxAttempts {
		retry := *delivery
		retry.NotBefore = time.Now().Add(d.retryDelay)
		if enqErr := d.queue.Enqueue(ctx, retry); enqErr != nil {
			return true, errors.Join(handleErr, enqErr)
		}
	}
	return true, handleErr
}
