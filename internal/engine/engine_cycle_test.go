package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jpelkone/convoflow/pkg/api"
)

func TestCycleWithinOneTraversalFailsSession(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, Config{Connector: &captureConnector{}})

	def := api.FlowDefinition{
		ID: "looped",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", nil),
			node("a", "message", map[string]any{"text": "A"}),
			node("b", "message", map[string]any{"text": "B"}),
		},
		Edges: []api.EdgeDefinition{
			edge("start", "a"),
			edge("a", "b"),
			edge("b", "a"), // back-edge
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	res, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "go"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if res.Session.Status != api.StatusFailed {
		t.Fatalf("expected failed session, got %q", res.Session.Status)
	}
	var cerr *api.CycleError
	if !errors.As(res.Session.Err, &cerr) {
		t.Fatalf("expected CycleError, got %v", res.Session.Err)
	}
	if cerr.NodeID != "a" {
		t.Fatalf("expected cycle detected at a, got %q", cerr.NodeID)
	}
}

func TestStepCeilingFailsSession(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, Config{Connector: &captureConnector{}, MaxSteps: 5})

	nodes := []api.NodeDefinition{node("start", "trigger", nil)}
	edges := []api.EdgeDefinition{}
	prev := "start"
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("n%d", i)
		nodes = append(nodes, node(id, "message", map[string]any{"text": id}))
		edges = append(edges, edge(prev, id))
		prev = id
	}
	def := api.FlowDefinition{ID: "deep", Nodes: nodes, Edges: edges}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	res, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "go"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if res.Session.Status != api.StatusFailed {
		t.Fatalf("expected failed session, got %q", res.Session.Status)
	}
	var derr *api.DepthError
	if !errors.As(res.Session.Err, &derr) {
		t.Fatalf("expected DepthError, got %v", res.Session.Err)
	}
	if derr.MaxSteps != 5 {
		t.Fatalf("expected ceiling 5, got %d", derr.MaxSteps)
	}
}

func TestReconvergingBranchesBothRun(t *testing.T) {
	ctx := context.Background()
	conn := &captureConnector{}
	eng, _ := newTestEngine(t, Config{Connector: conn})

	// Diamond: start fans out to a and b, both lead to c. The two c
	// visits arrive over distinct paths, so this is reconvergence, not a
	// cycle.
	def := api.FlowDefinition{
		ID: "diamond",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", nil),
			node("a", "message", map[string]any{"text": "A"}),
			node("b", "message", map[string]any{"text": "B"}),
			node("c", "message", map[string]any{"text": "C"}),
		},
		Edges: []api.EdgeDefinition{
			edge("start", "a"),
			edge("start", "b"),
			edge("a", "c"),
			edge("b", "c"),
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	res, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "go"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if res.Session.Status != api.StatusCompleted {
		t.Fatalf("expected completed session, got %q (err=%v)", res.Session.Status, res.Session.Err)
	}

	counts := map[string]int{}
	for _, text := range conn.sent() {
		counts[text]++
	}
	if counts["A"] != 1 || counts["B"] != 1 || counts["C"] != 2 {
		t.Fatalf("unexpected sends: %v", conn.sent())
	}
}

func TestRevisitAcrossTurnsIsAllowed(t *testing.T) {
	ctx := context.Background()
	conn := &captureConnector{}
	eng, _ := newTestEngine(t, Config{Connector: conn})

	def := api.FlowDefinition{
		ID: "echo",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", map[string]any{
				"condition":         "contains",
				"keywords":          "echo",
				"sessionPersistent": true,
			}),
			node("say", "message", map[string]any{"text": "heard you"}),
		},
		Edges: []api.EdgeDefinition{edge("start", "say")},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	first, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "echo"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	second, err := eng.HandleMessage(ctx, inbound("m2", "conv-1", "echo again"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	// The cycle guard resets per inbound message: the same nodes ran
	// twice, on the same session, without tripping it.
	if second.Session.ID != first.Session.ID {
		t.Fatalf("expected the parked session to be re-entered, got a new one")
	}
	if second.CreatedSession {
		t.Fatal("re-entry must not create a session")
	}
	if second.Session.Status != api.StatusActive {
		t.Fatalf("expected session parked active, got %q", second.Session.Status)
	}
	if got := conn.sent(); len(got) != 2 {
		t.Fatalf("expected two sends across turns, got %v", got)
	}
}
