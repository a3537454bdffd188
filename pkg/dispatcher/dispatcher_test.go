package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpelkone/convoflow/internal/msgqueue"
	"github.com/jpelkone/convoflow/pkg/api"
)

// flakyEngine fails HandleMessage a configured number of times, then succeeds.
type flakyEngine struct {
	failures int
	calls    int
	handled  []string
}

func (e *flakyEngine) HandleMessage(ctx context.Context, msg api.InboundMessage) (*api.HandleResult, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("store unavailable")
	}
	e.handled = append(e.handled, msg.ID)
	return &api.HandleResult{Handled: true}, nil
}

func (e *flakyEngine) RegisterFlow(def api.FlowDefinition) error { return nil }
func (e *flakyEngine) GetSession(ctx context.Context, id string) (*api.Session, error) {
	return nil, errors.New("not implemented")
}
func (e *flakyEngine) ListSessions(ctx context.Context, opts api.SessionListOptions) ([]*api.Session, error) {
	return nil, nil
}
func (e *flakyEngine) PauseSession(ctx context.Context, id string) error   { return nil }
func (e *flakyEngine) ResumeSession(ctx context.Context, id string) error  { return nil }
func (e *flakyEngine) AbandonSession(ctx context.Context, id string) error { return nil }
func (e *flakyEngine) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (e *flakyEngine) RecoverStuckSessions(ctx context.Context) (int, error) { return 0, nil }

var _ api.Engine = (*flakyEngine)(nil)

func inbound(id string) api.InboundMessage {
	return api.InboundMessage{
		ID:             id,
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Text:           "hola",
	}
}

func TestEnqueueValidatesMessage(t *testing.T) {
	d := New(&flakyEngine{}, msgqueue.NewInMemoryQueue(4))
	ctx := context.Background()

	assert.Error(t, d.Enqueue(ctx, api.InboundMessage{ConversationID: "conv-1"}))
	assert.Error(t, d.Enqueue(ctx, api.InboundMessage{ID: "m1"}))
	assert.NoError(t, d.Enqueue(ctx, inbound("m1")))
}

func TestProcessOneDeliversToEngine(t *testing.T) {
	eng := &flakyEngine{}
	q := msgqueue.NewInMemoryQueue(4)
	d := New(eng, q)
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, inbound("m1")))

	processed, err := d.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"m1"}, eng.handled)
	assert.Equal(t, 0, q.Len())
}

func TestProcessOneRetriesUntilAttemptBudget(t *testing.T) {
	eng := &flakyEngine{failures: 100} // never recovers
	q := msgqueue.NewInMemoryQueue(4)
	d := NewWithConfig(eng, q, Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, inbound("m1")))

	// First two failures re-enqueue with a delay; the third drops.
	for i := 0; i < 2; i++ {
		processed, err := d.ProcessOne(ctx)
		assert.True(t, processed)
		assert.Error(t, err)
		require.Equal(t, 1, q.Len(), "attempt %d should re-enqueue", i+1)
	}

	processed, err := d.ProcessOne(ctx)
	assert.True(t, processed)
	assert.Error(t, err)
	assert.Equal(t, 0, q.Len(), "exhausted delivery must be dropped")
	assert.Equal(t, 3, eng.calls)
}

func TestProcessOneRecoversMidBudget(t *testing.T) {
	eng := &flakyEngine{failures: 1}
	q := msgqueue.NewInMemoryQueue(4)
	d := NewWithConfig(eng, q, Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, inbound("m1")))

	_, err := d.ProcessOne(ctx)
	assert.Error(t, err)

	processed, err := d.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"m1"}, eng.handled)
	assert.Equal(t, 0, q.Len())
}

func TestProcessOneHonorsContext(t *testing.T) {
	d := New(&flakyEngine{}, msgqueue.NewInMemoryQueue(4))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	processed, err := d.ProcessOne(ctx)
	assert.False(t, processed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
