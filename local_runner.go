package convoflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpelkone/convoflow/internal/msgqueue"
	"github.com/jpelkone/convoflow/pkg/api"
	"github.com/jpelkone/convoflow/pkg/dispatcher"
)

// LocalRunner bundles an in-memory Engine, an in-memory message queue, a
// Dispatcher, and a RecordingConnector into a simple "local runner" for
// development and tests.
//
// Typical usage:
//
//	runner := convoflow.NewLocalRunner()
//	flow := convoflow.NewFlow("greeter", "Greeter").KeywordTrigger(...)
//	flow.MustRegister(runner.Engine)
//
//	// Synchronous handling (no queue/dispatcher involved):
//	res, err := runner.Engine.HandleMessage(ctx, msg)
//
//	// Asynchronous handling:
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.SendText(ctx, "conv-1", "contact-1", "hello")
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner. Outbound sends
	// go to Connector.
	Engine Engine

	// Queue is the in-memory message queue drained by Dispatcher.
	Queue msgqueue.Queue

	// Dispatcher feeds queued messages to Engine.
	Dispatcher *dispatcher.Dispatcher

	// Connector records everything the flows send, for assertions.
	Connector *RecordingConnector

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a dispatcher with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	conn := &RecordingConnector{}
	eng := NewInMemoryEngineWithConfig(EngineConfig{Connector: conn})
	q := msgqueue.NewInMemoryQueue(1024)

	return &LocalRunner{
		Engine:     eng,
		Queue:      q,
		Dispatcher: dispatcher.New(eng, q),
		Connector:  conn,
	}
}

// StartWorkers starts 'concurrency' goroutines that continuously call
// Dispatcher.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("convoflow: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Dispatcher.ProcessOne(ctx)
				if err != nil {
					// For local runner we treat cancellation as a clean shutdown signal.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// For other errors, log and keep going so a single bad message
					// doesn't kill the dispatch loop.
					log.Printf("convoflow: local runner dispatcher error: %v", err)
					continue
				}
				if !processed {
					continue
				}
			}
		}()
	}

	return nil
}

// Stop cancels all goroutines started by StartWorkers and waits for them
// to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// SendText enqueues a plain text message with a fresh message id, as if
// it arrived from a channel webhook.
func (r *LocalRunner) SendText(ctx context.Context, conversationID, contactID, text string) error {
	return r.Send(ctx, api.InboundMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ContactID:      contactID,
		Text:           text,
		ReceivedAt:     time.Now(),
	})
}

// Send enqueues a fully formed inbound message.
func (r *LocalRunner) Send(ctx context.Context, msg api.InboundMessage) error {
	return r.Dispatcher.Enqueue(ctx, msg)
}

// OutboundRecord is one message captured by a RecordingConnector.
type OutboundRecord struct {
	ConversationID string
	ContactID      string
	Text           string
	MediaURL       string
	MediaKind      api.MediaKind
	Caption        string
	SentAt         time.Time
}

// RecordingConnector is a ChannelConnector that records every send
// instead of delivering it. Safe for concurrent use.
type RecordingConnector struct {
	mu   sync.Mutex
	sent []OutboundRecord
	seq  int
}

var _ api.ChannelConnector = (*RecordingConnector)(nil)

func (c *RecordingConnector) SendText(ctx context.Context, conversationID, contactID, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, OutboundRecord{
		ConversationID: conversationID,
		ContactID:      contactID,
		Text:           text,
		SentAt:         time.Now(),
	})
	c.seq++
	return fmt.Sprintf("rec-%d", c.seq), nil
}

func (c *RecordingConnector) SendMedia(ctx context.Context, conversationID, contactID string, kind api.MediaKind, url, caption string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, OutboundRecord{
		ConversationID: conversationID,
		ContactID:      contactID,
		MediaURL:       url,
		MediaKind:      kind,
		Caption:        caption,
		SentAt:         time.Now(),
	})
	c.seq++
	return fmt.Sprintf("rec-%d", c.seq), nil
}

// Sent returns a copy of everything recorded so far.
func (c *RecordingConnector) Sent() []OutboundRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OutboundRecord(nil), c.sent...)
}

// Reset clears the recording.
func (c *RecordingConnector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
