package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func menuFlow() api.FlowDefinition {
	return api.FlowDefinition{
		ID: "menu-flow",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", map[string]any{
				"condition":         "contains",
				"keywords":          "hola",
				"sessionPersistent": true,
				"timeoutAmount":     30,
				"timeoutUnit":       "minutes",
			}),
			node("greet", "message", map[string]any{"text": "Hi!"}),
			node("menu", "quick_reply", map[string]any{
				"text": "Pick one:",
				"options": []any{
					map[string]any{"payload": "hours", "label": "Opening hours"},
					map[string]any{"payload": "human", "label": "Talk to a human"},
				},
			}),
			node("hours-msg", "message", map[string]any{"text": "9-17 Mon-Fri"}),
			node("handoff", "handoff", nil),
		},
		Edges: []api.EdgeDefinition{
			edge("start", "greet"),
			edge("greet", "menu"),
			handleEdge("menu", "hours-msg", "hours"),
			handleEdge("menu", "handoff", "human"),
		},
	}
}

func TestQuickReplyParksSessionWaiting(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	conn := &captureConnector{}
	eng, _ := newTestEngine(t, Config{Connector: conn, Clock: clock.Now})

	if err := eng.RegisterFlow(menuFlow()); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	res, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "hola"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	sess := res.Session
	if sess.Status != api.StatusWaiting {
		t.Fatalf("expected status %q, got %q", api.StatusWaiting, sess.Status)
	}
	if sess.Waiting == nil || sess.Waiting.NodeID != "menu" {
		t.Fatalf("unexpected waiting context: %+v", sess.Waiting)
	}
	if sess.Waiting.Expect != api.InputSelection || len(sess.Waiting.Options) != 2 {
		t.Fatalf("unexpected waiting context: %+v", sess.Waiting)
	}

	if sess.ExpiresAt == nil {
		t.Fatal("expected an expiry deadline from the trigger timeout")
	}
	want := clock.Now().Add(30 * time.Minute)
	if !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, *sess.ExpiresAt)
	}
}

func TestQuickReplyResumeFollowsSelectedBranch(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	conn := &captureConnector{}
	eng, _ := newTestEngine(t, Config{Connector: conn, Clock: clock.Now})

	if err := eng.RegisterFlow(menuFlow()); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	first, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "hola"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	clock.Advance(5 * time.Minute)

	// Answer by label; matching is case-insensitive.
	second, err := eng.HandleMessage(ctx, inbound("m2", "conv-1", "opening HOURS"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if !second.Handled || second.CreatedSession {
		t.Fatalf("expected resume of the existing session, got %+v", second)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("resume created a different session: %s vs %s", second.Session.ID, first.Session.ID)
	}

	sent := conn.sent()
	if len(sent) == 0 || sent[len(sent)-1] != "9-17 Mon-Fri" {
		t.Fatalf("expected hours branch reply, got %v", sent)
	}

	// The trigger is session-persistent, so after the branch drained the
	// session parks ACTIVE at the trigger with a refreshed deadline.
	sess := second.Session
	if sess.Status != api.StatusActive || sess.CurrentNodeID != "start" {
		t.Fatalf("expected session parked at trigger, got status=%q node=%q", sess.Status, sess.CurrentNodeID)
	}
	want := clock.Now().Add(30 * time.Minute)
	if sess.ExpiresAt == nil || !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected refreshed expiry %v, got %v", want, sess.ExpiresAt)
	}
	if got := sess.Variables["menu.selection"]; got != "hours" {
		t.Fatalf("expected captured selection hours, got %v", got)
	}
}

func TestQuickReplyResumeByIndexAndPayload(t *testing.T) {
	ctx := context.Background()
	for _, answer := range []string{"2", "human"} {
		t.Run(answer, func(t *testing.T) {
			eng, _ := newTestEngine(t, Config{Connector: &captureConnector{}})
			if err := eng.RegisterFlow(menuFlow()); err != nil {
				t.Fatalf("RegisterFlow failed: %v", err)
			}
			if _, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "hola")); err != nil {
				t.Fatalf("HandleMessage failed: %v", err)
			}

			msg := inbound("m2", "conv-1", answer)
			if answer == "human" {
				msg.Text = ""
				msg.Payload = "human"
			}
			res, err := eng.HandleMessage(ctx, msg)
			if err != nil {
				t.Fatalf("HandleMessage failed: %v", err)
			}
			if !res.Handled {
				t.Fatalf("expected answer %q to resume the session", answer)
			}
			// The human branch ends in a handoff, which is terminal even
			// under a session-persistent trigger.
			if res.Session.Status != api.StatusCompleted {
				t.Fatalf("expected completed session, got %q", res.Session.Status)
			}
		})
	}
}

func TestMismatchedInputLeavesWaitingUnchanged(t *testing.T) {
	ctx := context.Background()
	conn := &captureConnector{}
	eng, _ := newTestEngine(t, Config{Connector: conn})

	if err := eng.RegisterFlow(menuFlow()); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	first, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "hola"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	sendsBefore := len(conn.sent())

	res, err := eng.HandleMessage(ctx, inbound("m2", "conv-1", "42"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Handled {
		t.Fatalf("out-of-range selection must not resume, got %+v", res)
	}

	sess, err := eng.GetSession(ctx, first.Session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Status != api.StatusWaiting || sess.Waiting == nil || sess.Waiting.NodeID != "menu" {
		t.Fatalf("waiting state changed on mismatch: %+v", sess)
	}
	if got := len(conn.sent()); got != sendsBefore {
		t.Fatalf("mismatch caused %d extra sends", got-sendsBefore)
	}
}

func TestQuestionCapturesFreeTextAnswer(t *testing.T) {
	ctx := context.Background()
	conn := &captureConnector{}
	eng, _ := newTestEngine(t, Config{Connector: conn})

	def := api.FlowDefinition{
		ID: "intake",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", map[string]any{"condition": "contains", "keywords": "support"}),
			node("ask", "question", map[string]any{"text": "What's your name?", "variableKey": "name"}),
			node("thanks", "message", map[string]any{"text": "Thanks, {{name}}!"}),
		},
		Edges: []api.EdgeDefinition{
			edge("start", "ask"),
			edge("ask", "thanks"),
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	if _, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "support please")); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	res, err := eng.HandleMessage(ctx, inbound("m2", "conv-1", "Ada"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if res.Session.Status != api.StatusCompleted {
		t.Fatalf("expected completed session, got %q", res.Session.Status)
	}
	sent := conn.sent()
	if len(sent) == 0 || sent[len(sent)-1] != "Thanks, Ada!" {
		t.Fatalf("unexpected sends: %v", sent)
	}
}

func TestWaitingNodeEditedOutFailsSession(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, Config{Connector: &captureConnector{}})

	def := api.FlowDefinition{
		ID: "editable",
		Nodes: []api.NodeDefinition{
			node("start", "trigger", nil),
			node("ask", "question", map[string]any{"text": "Well?", "variableKey": "answer"}),
		},
		Edges: []api.EdgeDefinition{edge("start", "ask")},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	first, err := eng.HandleMessage(ctx, inbound("m1", "conv-1", "go"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if first.Session.Status != api.StatusWaiting {
		t.Fatalf("expected waiting session, got %q", first.Session.Status)
	}

	// Republish the flow without the node the session is parked on.
	def.Nodes = def.Nodes[:1]
	def.Edges = nil
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	if _, err := eng.HandleMessage(ctx, inbound("m2", "conv-1", "an answer")); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	sess, err := eng.GetSession(ctx, first.Session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Status != api.StatusFailed {
		t.Fatalf("expected failed session, got %q", sess.Status)
	}
	var ierr *api.GraphIntegrityError
	if !errors.As(sess.Err, &ierr) {
		t.Fatalf("expected GraphIntegrityError, got %v", sess.Err)
	}
}
