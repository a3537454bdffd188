package convoflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpelkone/convoflow/pkg/api"
)

// sweepCountingEngine counts expiry sweeps; everything else is inert.
type sweepCountingEngine struct {
	sweeps atomic.Int64
}

var _ Engine = (*sweepCountingEngine)(nil)

func (e *sweepCountingEngine) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	e.sweeps.Add(1)
	return 0, nil
}

func (e *sweepCountingEngine) RegisterFlow(def FlowDefinition) error { return nil }
func (e *sweepCountingEngine) HandleMessage(ctx context.Context, msg InboundMessage) (*HandleResult, error) {
	return &HandleResult{}, nil
}
func (e *sweepCountingEngine) GetSession(ctx context.Context, id string) (*Session, error) {
	return nil, api.ErrSessionNotFound
}
func (e *sweepCountingEngine) ListSessions(ctx context.Context, opts SessionListOptions) ([]*Session, error) {
	return nil, nil
}
func (e *sweepCountingEngine) PauseSession(ctx context.Context, id string) error   { return nil }
func (e *sweepCountingEngine) ResumeSession(ctx context.Context, id string) error  { return nil }
func (e *sweepCountingEngine) AbandonSession(ctx context.Context, id string) error { return nil }
func (e *sweepCountingEngine) RecoverStuckSessions(ctx context.Context) (int, error) {
	return 0, nil
}

func TestSweeperRunsPeriodically(t *testing.T) {
	eng := &sweepCountingEngine{}
	s := NewSweeper(eng, 10*time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start must be rejected")

	deadline := time.Now().Add(2 * time.Second)
	for eng.sweeps.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, eng.sweeps.Load(), int64(2))

	s.Stop()
	after := eng.sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, eng.sweeps.Load(), "sweeps must stop after Stop")

	// Stop is idempotent and the sweeper can be restarted.
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
