package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/jpelkone/convoflow/internal/persistence"
	"github.com/jpelkone/convoflow/pkg/api"
)

// flakySessionStore fails the first SaveSession calls, then defers to the
// wrapped store.
type flakySessionStore struct {
	persistence.SessionStore
	failuresLeft int
	attempts     int
}

func (s *flakySessionStore) SaveSession(sess *api.Session) error {
	s.attempts++
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return errors.New("store unavailable")
	}
	return s.SessionStore.SaveSession(sess)
}

func retryTestFlow() api.FlowDefinition {
	return api.FlowDefinition{
		ID: "retry-flow",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", nil),
			node("hi", "message", map[string]any{"text": "hi"}),
		},
		Edges: []api.EdgeDefinition{edge("start", "hi")},
	}
}

func TestStoreRetrySurvivesTransientWriteFailures(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewInMemoryStore()
	flaky := &flakySessionStore{SessionStore: mem, failuresLeft: 2}

	eng, err := New(Config{
		Persistence: persistence.Persistence{Flows: mem, Sessions: flaky, Events: mem},
		Connector:   &captureConnector{},
		Logger:      testLogger(),
		StoreRetry:  api.BackoffPolicy{MaxAttempts: 3},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := eng.RegisterFlow(retryTestFlow()); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	res, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "go"))
	if err != nil {
		t.Fatalf("HandleMessage failed despite retry budget: %v", err)
	}
	if res.Session.Status != api.StatusCompleted {
		t.Fatalf("expected completed session, got %q", res.Session.Status)
	}
	if flaky.attempts != 3 {
		t.Fatalf("expected 3 save attempts, got %d", flaky.attempts)
	}
}

func TestStoreRetryBudgetExhaustionFailsHandling(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewInMemoryStore()
	flaky := &flakySessionStore{SessionStore: mem, failuresLeft: 3}

	eng, err := New(Config{
		Persistence: persistence.Persistence{Flows: mem, Sessions: flaky, Events: mem},
		Connector:   &captureConnector{},
		Logger:      testLogger(),
		StoreRetry:  api.BackoffPolicy{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := eng.RegisterFlow(retryTestFlow()); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	if _, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "go")); err == nil {
		t.Fatal("expected session creation to surface the store failure")
	}
	if flaky.attempts != 1 {
		t.Fatalf("expected a single save attempt, got %d", flaky.attempts)
	}
}
