package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpelkone/convoflow/internal/persistence"
	"github.com/jpelkone/convoflow/pkg/api"
)

// SessionEngine is the reference implementation of api.Engine. One value
// serves a whole process; all methods are safe for concurrent use. Work
// for the same conversation is serialized by the conversation guard, work
// for different conversations proceeds in parallel.
type SessionEngine struct {
	store    persistence.Persistence
	registry *api.Registry
	observer api.Observer
	logger   *slog.Logger
	guard    *conversationGuard

	maxSteps        int
	strictCondition bool
	now             func() time.Time
	storeRetry      api.BackoffPolicy

	mu     sync.RWMutex
	graphs map[string]*api.FlowGraph
}

// Config collects the engine dependencies. Zero values get sensible
// defaults; only Persistence is mandatory.
type Config struct {
	Persistence persistence.Persistence

	// Registry maps node kinds to executors. Nil means the built-in
	// registry over Connector.
	Registry *api.Registry

	// Connector delivers outbound messages. Only consulted when Registry
	// is nil; a custom registry brings its own connector.
	Connector api.ChannelConnector

	Observer api.Observer
	Logger   *slog.Logger

	// MaxSteps caps the nodes one traversal may execute. Defaults to 100.
	MaxSteps int

	// StrictConditionEdges makes a condition node with neither branch
	// family wired follow no edge instead of every edge.
	StrictConditionEdges bool

	// Clock overrides time.Now, for tests and the expiry sweeper.
	Clock func() time.Time

	// StoreRetry controls retries of session writes mid-traversal.
	StoreRetry api.BackoffPolicy
}

const defaultMaxSteps = 100

var defaultStoreRetry = api.BackoffPolicy{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
	Multiplier:     2.0,
}

var errSessionNotLive = errors.New("session is not live")

// New builds a SessionEngine from cfg.
func New(cfg Config) (*SessionEngine, error) {
	if cfg.Persistence.Flows == nil || cfg.Persistence.Sessions == nil {
		return nil, errors.New("persistence must provide flow and session stores")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewBuiltinRegistry(cfg.Connector, logger)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = api.NoopObserver{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	retry := cfg.StoreRetry
	if retry.MaxAttempts <= 0 {
		retry = defaultStoreRetry
	}

	return &SessionEngine{
		store:           cfg.Persistence,
		registry:        registry,
		observer:        observer,
		logger:          logger,
		guard:           newConversationGuard(now),
		maxSteps:        maxSteps,
		strictCondition: cfg.StrictConditionEdges,
		now:             now,
		storeRetry:      retry,
		graphs:          make(map[string]*api.FlowGraph),
	}, nil
}

var _ api.Engine = (*SessionEngine)(nil)

// RegisterFlow stores the definition and invalidates the cached graph.
func (e *SessionEngine) RegisterFlow(def api.FlowDefinition) error {
	if def.ID == "" {
		return errors.New("flow definition has no id")
	}
	if err := e.store.Flows.SaveFlow(def); err != nil {
		return fmt.Errorf("save flow %s: %w", def.ID, err)
	}
	e.mu.Lock()
	delete(e.graphs, def.ID)
	e.mu.Unlock()
	return nil
}

func (e *SessionEngine) graph(flowID string) (*api.FlowGraph, error) {
	e.mu.RLock()
	g, ok := e.graphs[flowID]
	e.mu.RUnlock()
	if ok {
		return g, nil
	}

	def, err := e.store.Flows.GetFlow(flowID)
	if err != nil {
		return nil, err
	}
	g = api.BuildGraph(def)

	e.mu.Lock()
	e.graphs[flowID] = g
	e.mu.Unlock()
	return g, nil
}

// HandleMessage processes one inbound message end to end: duplicate
// rejection, waiting-session resume, then trigger matching in assignment
// order. It holds the conversation token for the whole unit of work.
func (e *SessionEngine) HandleMessage(ctx context.Context, msg api.InboundMessage) (*api.HandleResult, error) {
	if msg.ID == "" || msg.ConversationID == "" {
		return nil, errors.New("inbound message needs id and conversation id")
	}

	acquired, release, err := e.guard.Acquire(ctx, msg.ConversationID, msg.ID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		e.observer.OnMessageIgnored(ctx, msg, "duplicate")
		return &api.HandleResult{Duplicate: true}, nil
	}
	defer release()

	if res, handled := e.tryResume(ctx, msg); handled {
		return res, nil
	}
	if res, handled, err := e.tryTrigger(ctx, msg); err != nil {
		return nil, err
	} else if handled {
		return res, nil
	}

	e.observer.OnMessageIgnored(ctx, msg, "no_match")
	return &api.HandleResult{}, nil
}

// tryResume offers the message to each waiting session of the
// conversation. The first session whose expected input matches consumes
// it; a mismatch leaves that session byte-for-byte unchanged. Sessions
// past their inactivity deadline are retired to TIMEOUT on sight instead
// of resuming, whether or not a sweep has run.
func (e *SessionEngine) tryResume(ctx context.Context, msg api.InboundMessage) (*api.HandleResult, bool) {
	sessions, err := e.store.Sessions.ListActiveForConversation(msg.ConversationID)
	if err != nil {
		e.logger.ErrorContext(ctx, "list_sessions_failed",
			slog.String("conversation_id", msg.ConversationID),
			slog.Any("error", err),
		)
		return nil, false
	}

	for _, sess := range sessions {
		if sess.Expired(e.now()) {
			// The deadline passed but the sweep has not caught up. Retire
			// the session here so a stale deadline never consumes input.
			e.timeoutSession(ctx, sess)
			continue
		}
		if sess.Status != api.StatusWaiting || sess.Waiting == nil {
			continue
		}

		g, err := e.graph(sess.FlowID)
		if err != nil {
			e.logger.ErrorContext(ctx, "flow_load_failed",
				slog.String("flow", sess.FlowID),
				slog.Any("error", err),
			)
			continue
		}

		node, ok := g.Node(sess.Waiting.NodeID)
		if !ok {
			// The node this session is parked on was edited out from under
			// it. The session cannot make progress again.
			ec := api.NewExecContext(msg, sess.Variables)
			e.failSession(ctx, sess, ec, &api.GraphIntegrityError{FlowID: sess.FlowID, NodeID: sess.Waiting.NodeID})
			continue
		}

		exec, ok := e.registry.Lookup(node.Kind)
		if !ok {
			continue
		}
		matcher, ok := exec.(api.ResumeMatcher)
		if !ok {
			continue
		}

		ec := api.NewExecContext(msg, sess.Variables)
		captured, matched := matcher.MatchResumedInput(node, sess.Waiting, msg, ec)
		if !matched {
			continue
		}

		if key := sess.Waiting.VariableKey; key != "" {
			ec.SetVar(key, captured)
		}
		sess.Status = api.StatusActive
		sess.Waiting = nil

		e.observer.OnSessionResumed(ctx, sess)
		e.appendEvent(api.SessionEvent{
			SessionID: sess.ID,
			At:        e.now(),
			Type:      api.EventSessionResumed,
			FlowID:    sess.FlowID,
			NodeID:    node.ID,
		})

		trigger, _ := g.Node(sess.TriggerNodeID)
		queue := e.pushEdges(g, nil, resolveEdges(g, node, ec, e.strictCondition), []string{node.ID})
		e.traverse(ctx, g, sess, ec, trigger, queue)

		return &api.HandleResult{Handled: true, Session: sess}, true
	}

	return nil, false
}

// tryTrigger scans flows in assignment order and their triggers in
// definition order; the first trigger that matches wins. If a live session
// already exists for the same (trigger, conversation, contact), no second
// one is created: an ACTIVE session parked at the trigger is re-entered,
// a WAITING one holds the slot and the trigger is skipped.
func (e *SessionEngine) tryTrigger(ctx context.Context, msg api.InboundMessage) (*api.HandleResult, bool, error) {
	flowIDs, err := e.store.Flows.Assignments()
	if err != nil {
		return nil, false, fmt.Errorf("list flow assignments: %w", err)
	}

	for _, flowID := range flowIDs {
		g, err := e.graph(flowID)
		if err != nil {
			e.logger.ErrorContext(ctx, "flow_load_failed",
				slog.String("flow", flowID),
				slog.Any("error", err),
			)
			continue
		}

		for _, trigger := range g.Triggers() {
			keyword, ok := triggerMatches(trigger, msg)
			if !ok {
				continue
			}

			existing := e.findLiveSession(ctx, msg, flowID, trigger.ID)
			if existing != nil && existing.Status == api.StatusWaiting {
				continue
			}

			if existing != nil {
				ec := api.NewExecContext(msg, existing.Variables)
				if keyword != "" {
					ec.SetVar("trigger.keyword", keyword)
				}
				e.traverse(ctx, g, existing, ec, trigger, []frame{{nodeID: trigger.ID}})
				return &api.HandleResult{
					Handled:        true,
					Session:        existing,
					MatchedKeyword: keyword,
				}, true, nil
			}

			sess, err := e.startSession(ctx, msg, g, trigger, keyword)
			if err != nil {
				return nil, false, err
			}
			ec := api.NewExecContext(msg, sess.Variables)
			e.traverse(ctx, g, sess, ec, trigger, []frame{{nodeID: trigger.ID}})
			return &api.HandleResult{
				Handled:        true,
				CreatedSession: true,
				Session:        sess,
				MatchedKeyword: keyword,
			}, true, nil
		}
	}

	return nil, false, nil
}

// findLiveSession returns the live, unexpired session holding the
// (flow, trigger, contact) slot, or nil. A session whose deadline already
// passed is retired in place, so it neither re-enters nor blocks a fresh
// trigger.
func (e *SessionEngine) findLiveSession(ctx context.Context, msg api.InboundMessage, flowID, triggerID string) *api.Session {
	sessions, err := e.store.Sessions.ListActiveForConversation(msg.ConversationID)
	if err != nil {
		e.logger.ErrorContext(ctx, "list_sessions_failed",
			slog.String("conversation_id", msg.ConversationID),
			slog.Any("error", err),
		)
		return nil
	}
	for _, sess := range sessions {
		if sess.FlowID != flowID || sess.TriggerNodeID != triggerID || sess.ContactID != msg.ContactID {
			continue
		}
		if sess.Expired(e.now()) {
			e.timeoutSession(ctx, sess)
			continue
		}
		return sess
	}
	return nil
}

func (e *SessionEngine) startSession(ctx context.Context, msg api.InboundMessage, g *api.FlowGraph, trigger api.NodeSpec, keyword string) (*api.Session, error) {
	now := e.now()
	sess := &api.Session{
		ID:             uuid.NewString(),
		FlowID:         g.FlowID(),
		ConversationID: msg.ConversationID,
		ContactID:      msg.ContactID,
		CompanyID:      msg.CompanyID,
		Status:         api.StatusActive,
		CurrentNodeID:  trigger.ID,
		TriggerNodeID:  trigger.ID,
		Variables:      make(map[string]any),
		StartedAt:      now,
		LastActivityAt: now,
	}
	if keyword != "" {
		sess.Variables["trigger.keyword"] = keyword
	}
	if timeout := triggerTimeout(trigger); timeout > 0 {
		t := now.Add(timeout)
		sess.ExpiresAt = &t
	}

	if err := e.withRetry(ctx, func() error { return e.store.Sessions.SaveSession(sess) }); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	e.observer.OnSessionStart(ctx, sess)
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        now,
		Type:      api.EventSessionStarted,
		FlowID:    sess.FlowID,
		NodeID:    trigger.ID,
		Detail:    keyword,
	})
	return sess, nil
}

// frame is one unit of traversal work: a node to execute and the visited
// path that led to it. The path is the cycle guard (a node reachable from
// itself within one traversal fails the session, while two fan-out
// branches reconverging on the same node are both allowed to run) and it
// feeds the context's idempotency ledger.
type frame struct {
	nodeID string
	path   []string
}

func (f frame) onPath(nodeID string) bool {
	for _, id := range f.path {
		if id == nodeID {
			return true
		}
	}
	return false
}

// traverse runs the FIFO worklist until it drains or the session leaves
// ACTIVE. The starting frames are trusted to reference existing nodes;
// every frame pushed from an edge is checked before enqueueing, so a
// dangling edge degrades to a logged skip instead of a failure.
func (e *SessionEngine) traverse(ctx context.Context, g *api.FlowGraph, sess *api.Session, ec *api.ExecContext, trigger api.NodeSpec, queue []frame) {
	timeout := triggerTimeout(trigger)
	steps := 0

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		steps++
		if steps > e.maxSteps {
			e.failSession(ctx, sess, ec, &api.DepthError{MaxSteps: e.maxSteps})
			return
		}

		node, ok := g.Node(f.nodeID)
		if !ok {
			e.failSession(ctx, sess, ec, &api.GraphIntegrityError{FlowID: g.FlowID(), NodeID: f.nodeID})
			return
		}
		if f.onPath(node.ID) {
			e.failSession(ctx, sess, ec, &api.CycleError{NodeID: node.ID})
			return
		}

		sess.CurrentNodeID = node.ID
		sess.ExecutionPath = append(sess.ExecutionPath, node.ID)
		ec.SetCurrentPath(f.path)

		exec, ok := e.registry.Lookup(node.Kind)
		if !ok {
			if exec, ok = e.registry.Lookup(api.KindUnknown); !ok {
				e.failSession(ctx, sess, ec, fmt.Errorf("no executor for node kind %q", node.Kind))
				return
			}
		}

		e.observer.OnNodeStart(ctx, sess, node)
		started := e.now()
		out := exec.Execute(ctx, node, ec)
		e.observer.OnNodeCompleted(ctx, sess, node, out.Err, e.now().Sub(started))

		switch out.Kind {
		case api.OutcomeFailed:
			err := out.Err
			if err == nil {
				err = fmt.Errorf("node %s failed", node.ID)
			}
			e.appendEvent(api.SessionEvent{
				SessionID: sess.ID,
				At:        e.now(),
				Type:      api.EventNodeFailed,
				FlowID:    sess.FlowID,
				NodeID:    node.ID,
				Detail:    err.Error(),
			})
			e.failSession(ctx, sess, ec, err)
			return

		case api.OutcomeTerminal:
			e.completeSession(ctx, sess, ec)
			return

		case api.OutcomeWait:
			sess.Status = api.StatusWaiting
			sess.Waiting = out.Waiting
			e.touch(sess, timeout)
			sess.Variables = ec.Vars()
			e.persistUpdate(ctx, sess)
			e.observer.OnSessionWaiting(ctx, sess)
			e.appendEvent(api.SessionEvent{
				SessionID: sess.ID,
				At:        e.now(),
				Type:      api.EventSessionWaiting,
				FlowID:    sess.FlowID,
				NodeID:    node.ID,
			})
			return

		default: // OutcomeContinue
			childPath := append(append([]string(nil), f.path...), node.ID)
			queue = e.pushEdges(g, queue, resolveEdges(g, node, ec, e.strictCondition), childPath)
			e.touch(sess, timeout)
			sess.Variables = ec.Vars()
			e.persistUpdate(ctx, sess)
		}
	}

	// The worklist drained without a wait or a terminal node. A
	// session-persistent trigger keeps the session parked at the trigger
	// so later messages re-enter it; anything else completes.
	if trigger.ID != "" && sessionPersistent(trigger) {
		sess.Status = api.StatusActive
		sess.CurrentNodeID = trigger.ID
		sess.Waiting = nil
		e.touch(sess, timeout)
		sess.Variables = ec.Vars()
		e.persistUpdate(ctx, sess)
		return
	}
	e.completeSession(ctx, sess, ec)
}

// pushEdges appends a frame per taken edge, skipping targets the graph
// does not contain.
func (e *SessionEngine) pushEdges(g *api.FlowGraph, queue []frame, edges []api.Edge, path []string) []frame {
	for _, edge := range edges {
		if _, ok := g.Node(edge.Target); !ok {
			ierr := &api.GraphIntegrityError{FlowID: g.FlowID(), NodeID: edge.Target}
			e.logger.Warn("dangling_edge_skipped",
				slog.String("source", edge.Source),
				slog.Any("error", ierr),
			)
			continue
		}
		queue = append(queue, frame{nodeID: edge.Target, path: path})
	}
	return queue
}

func (e *SessionEngine) touch(sess *api.Session, timeout time.Duration) {
	now := e.now()
	sess.LastActivityAt = now
	if timeout > 0 {
		t := now.Add(timeout)
		sess.ExpiresAt = &t
	}
}

func (e *SessionEngine) completeSession(ctx context.Context, sess *api.Session, ec *api.ExecContext) {
	sess.Status = api.StatusCompleted
	sess.Waiting = nil
	sess.LastActivityAt = e.now()
	sess.Variables = ec.Vars()
	e.persistUpdate(ctx, sess)
	e.observer.OnSessionCompleted(ctx, sess)
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        e.now(),
		Type:      api.EventSessionCompleted,
		FlowID:    sess.FlowID,
		NodeID:    sess.CurrentNodeID,
	})
}

// timeoutSession retires a session whose deadline passed before the
// background sweep reached it. The caller holds the conversation token.
func (e *SessionEngine) timeoutSession(ctx context.Context, sess *api.Session) {
	sess.Status = api.StatusTimeout
	sess.Waiting = nil
	sess.LastActivityAt = e.now()
	e.persistUpdate(ctx, sess)
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        e.now(),
		Type:      api.EventSessionTimeout,
		FlowID:    sess.FlowID,
		NodeID:    sess.CurrentNodeID,
	})
}

func (e *SessionEngine) failSession(ctx context.Context, sess *api.Session, ec *api.ExecContext, err error) {
	sess.Status = api.StatusFailed
	sess.Waiting = nil
	sess.Err = err
	sess.LastActivityAt = e.now()
	if ec != nil {
		sess.Variables = ec.Vars()
	}
	e.persistUpdate(ctx, sess)
	e.observer.OnSessionFailed(ctx, sess, err)
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        e.now(),
		Type:      api.EventSessionFailed,
		FlowID:    sess.FlowID,
		NodeID:    sess.CurrentNodeID,
		Detail:    err.Error(),
	})
}

// persistUpdate writes the session with retries. A write that still fails
// after the retry budget is logged and the traversal continues; losing an
// intermediate snapshot is preferable to killing the conversation.
func (e *SessionEngine) persistUpdate(ctx context.Context, sess *api.Session) {
	err := e.withRetry(ctx, func() error { return e.store.Sessions.UpdateSession(sess) })
	if err != nil {
		e.logger.ErrorContext(ctx, "session_update_failed",
			slog.String("session_id", sess.ID),
			slog.Any("error", err),
		)
	}
}

func (e *SessionEngine) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	for _, delay := range e.storeRetry.Delays() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

func (e *SessionEngine) appendEvent(ev api.SessionEvent) {
	if e.store.Events == nil {
		return
	}
	if err := e.store.Events.AppendEvent(ev); err != nil {
		e.logger.Warn("event_append_failed",
			slog.String("session_id", ev.SessionID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}

// GetSession looks up a session by id.
func (e *SessionEngine) GetSession(ctx context.Context, id string) (*api.Session, error) {
	return e.store.Sessions.GetSession(id)
}

// ListSessions returns sessions matching opts.
func (e *SessionEngine) ListSessions(ctx context.Context, opts api.SessionListOptions) ([]*api.Session, error) {
	return e.store.Sessions.ListSessions(persistence.SessionFilter{
		FlowID:         opts.FlowID,
		ConversationID: opts.ConversationID,
		Status:         opts.Status,
	})
}

// PauseSession freezes a live session.
func (e *SessionEngine) PauseSession(ctx context.Context, id string) error {
	sess, err := e.store.Sessions.GetSession(id)
	if err != nil {
		return err
	}
	if !sess.IsLive() {
		return fmt.Errorf("pause session %s: %w", id, errSessionNotLive)
	}
	sess.Status = api.StatusPaused
	sess.LastActivityAt = e.now()
	if err := e.store.Sessions.UpdateSession(sess); err != nil {
		return err
	}
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        e.now(),
		Type:      api.EventSessionPaused,
		FlowID:    sess.FlowID,
		NodeID:    sess.CurrentNodeID,
	})
	return nil
}

// ResumeSession thaws a paused session back to its pre-pause state.
func (e *SessionEngine) ResumeSession(ctx context.Context, id string) error {
	sess, err := e.store.Sessions.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Status != api.StatusPaused {
		return fmt.Errorf("resume session %s: status is %s, want %s", id, sess.Status, api.StatusPaused)
	}
	if sess.Waiting != nil {
		sess.Status = api.StatusWaiting
	} else {
		sess.Status = api.StatusActive
	}
	sess.LastActivityAt = e.now()
	if err := e.store.Sessions.UpdateSession(sess); err != nil {
		return err
	}
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        e.now(),
		Type:      api.EventSessionResumed,
		FlowID:    sess.FlowID,
		NodeID:    sess.CurrentNodeID,
	})
	return nil
}

// AbandonSession marks a live or paused session ABANDONED.
func (e *SessionEngine) AbandonSession(ctx context.Context, id string) error {
	sess, err := e.store.Sessions.GetSession(id)
	if err != nil {
		return err
	}
	if !sess.IsLive() && sess.Status != api.StatusPaused {
		return fmt.Errorf("abandon session %s: %w", id, errSessionNotLive)
	}
	sess.Status = api.StatusAbandoned
	sess.Waiting = nil
	sess.LastActivityAt = e.now()
	if err := e.store.Sessions.UpdateSession(sess); err != nil {
		return err
	}
	e.appendEvent(api.SessionEvent{
		SessionID: sess.ID,
		At:        e.now(),
		Type:      api.EventSessionAbandoned,
		FlowID:    sess.FlowID,
		NodeID:    sess.CurrentNodeID,
	})
	return nil
}

// ExpireSessions transitions every live session whose deadline lies before
// now to TIMEOUT. Each candidate is re-checked under the conversation
// token, so a sweep never races a traversal that just advanced the
// deadline.
func (e *SessionEngine) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	candidates, err := e.store.Sessions.ListExpired(now)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		sweepID := "sweep:" + candidate.ID + ":" + strconv.FormatInt(now.UnixNano(), 10)
		acquired, release, err := e.guard.Acquire(ctx, candidate.ConversationID, sweepID)
		if err != nil {
			return expired, err
		}
		if !acquired {
			continue
		}

		sess, err := e.store.Sessions.GetSession(candidate.ID)
		if err != nil {
			release()
			if errors.Is(err, api.ErrSessionNotFound) {
				continue
			}
			return expired, err
		}
		if !sess.IsLive() || !sess.Expired(now) {
			release()
			continue
		}

		sess.Status = api.StatusTimeout
		sess.Waiting = nil
		sess.LastActivityAt = e.now()
		if err := e.store.Sessions.UpdateSession(sess); err != nil {
			release()
			return expired, err
		}
		e.appendEvent(api.SessionEvent{
			SessionID: sess.ID,
			At:        now,
			Type:      api.EventSessionTimeout,
			FlowID:    sess.FlowID,
			NodeID:    sess.CurrentNodeID,
		})
		release()
		expired++
	}
	return expired, nil
}

// RecoverStuckSessions fails sessions left ACTIVE mid-traversal by a
// previous process. Sessions parked at their trigger node are the one
// legitimate ACTIVE-at-rest state and are skipped.
func (e *SessionEngine) RecoverStuckSessions(ctx context.Context) (int, error) {
	sessions, err := e.store.Sessions.ListSessions(persistence.SessionFilter{Status: api.StatusActive})
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	recovered := 0
	for _, sess := range sessions {
		if sess.CurrentNodeID == sess.TriggerNodeID {
			continue
		}
		stuckErr := fmt.Errorf("session interrupted at node %s", sess.CurrentNodeID)
		sess.Status = api.StatusFailed
		sess.Waiting = nil
		sess.Err = stuckErr
		sess.LastActivityAt = e.now()
		if err := e.store.Sessions.UpdateSession(sess); err != nil {
			return recovered, err
		}
		e.appendEvent(api.SessionEvent{
			SessionID: sess.ID,
			At:        e.now(),
			Type:      api.EventSessionFailed,
			FlowID:    sess.FlowID,
			NodeID:    sess.CurrentNodeID,
			Detail:    stuckErr.Error(),
		})
		recovered++
	}
	return recovered, nil
}
