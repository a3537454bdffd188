package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the session engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay traversal.
type Observer interface {
	// OnSessionStart is called once when trigger matching creates a session,
	// before the first node executes.
	OnSessionStart(ctx context.Context, sess *Session)

	// OnSessionWaiting is called when a session parks for user input.
	OnSessionWaiting(ctx context.Context, sess *Session)

	// OnSessionResumed is called when an inbound message satisfies a
	// waiting session's expected input.
	OnSessionResumed(ctx context.Context, sess *Session)

	// OnSessionCompleted is called when a session reaches StatusCompleted.
	OnSessionCompleted(ctx context.Context, sess *Session)

	// OnSessionFailed is called when a session transitions to StatusFailed.
	OnSessionFailed(ctx context.Context, sess *Session, err error)

	// OnNodeStart is called before dispatching a node to its executor.
	OnNodeStart(ctx context.Context, sess *Session, node NodeSpec)

	// OnNodeCompleted is called after a node executor returns, for both
	// successes and failures (err != nil).
	OnNodeCompleted(ctx context.Context, sess *Session, node NodeSpec, err error, duration time.Duration)

	// OnMessageIgnored is called when an inbound message was consumed by
	// no session and matched no trigger, or was rejected as a duplicate.
	OnMessageIgnored(ctx context.Context, msg InboundMessage, reason string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSessionStart(ctx context.Context, sess *Session)                {}
func (NoopObserver) OnSessionWaiting(ctx context.Context, sess *Session)              {}
func (NoopObserver) OnSessionResumed(ctx context.Context, sess *Session)              {}
func (NoopObserver) OnSessionCompleted(ctx context.Context, sess *Session)            {}
func (NoopObserver) OnSessionFailed(ctx context.Context, sess *Session, err error)    {}
func (NoopObserver) OnNodeStart(ctx context.Context, sess *Session, node NodeSpec)    {}
func (NoopObserver) OnMessageIgnored(ctx context.Context, msg InboundMessage, reason string) {
}
func (NoopObserver) OnNodeCompleted(ctx context.Context, sess *Session, node NodeSpec, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSessionStart(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionStart(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionWaiting(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionWaiting(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionResumed(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionResumed(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionCompleted(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnSessionCompleted(ctx, sess)
	}
}

func (c *CompositeObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	for _, o := range c.observers {
		o.OnSessionFailed(ctx, sess, err)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, sess *Session, node NodeSpec) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, sess, node)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, sess *Session, node NodeSpec, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, sess, node, err, d)
	}
}

func (c *CompositeObserver) OnMessageIgnored(ctx context.Context, msg InboundMessage, reason string) {
	for _, o := range c.observers {
		o.OnMessageIgnored(ctx, msg, reason)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session / node
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSessionStart(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "session_start",
		slog.String("flow", sess.FlowID),
		slog.String("session_id", sess.ID),
		slog.String("conversation_id", sess.ConversationID),
		slog.String("trigger", sess.TriggerNodeID),
	)
}

func (o *LoggingObserver) OnSessionWaiting(ctx context.Context, sess *Session) {
	o.Logger.DebugContext(ctx, "session_waiting",
		slog.String("flow", sess.FlowID),
		slog.String("session_id", sess.ID),
		slog.String("node", sess.CurrentNodeID),
	)
}

func (o *LoggingObserver) OnSessionResumed(ctx context.Context, sess *Session) {
	o.Logger.DebugContext(ctx, "session_resumed",
		slog.String("flow", sess.FlowID),
		slog.String("session_id", sess.ID),
		slog.String("node", sess.CurrentNodeID),
	)
}

func (o *LoggingObserver) OnSessionCompleted(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "session_completed",
		slog.String("flow", sess.FlowID),
		slog.String("session_id", sess.ID),
	)
}

func (o *LoggingObserver) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	o.Logger.ErrorContext(ctx, "session_failed",
		slog.String("flow", sess.FlowID),
		slog.String("session_id", sess.ID),
		slog.String("node", sess.CurrentNodeID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, sess *Session, node NodeSpec) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("session_id", sess.ID),
		slog.String("node", node.ID),
		slog.String("kind", string(node.Kind)),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, sess *Session, node NodeSpec, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("session_id", sess.ID),
		slog.String("node", node.ID),
		slog.String("kind", string(node.Kind)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnMessageIgnored(ctx context.Context, msg InboundMessage, reason string) {
	o.Logger.DebugContext(ctx, "message_ignored",
		slog.String("conversation_id", msg.ConversationID),
		slog.String("message_id", msg.ID),
		slog.String("reason", reason),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	sessionsStarted   atomic.Int64
	sessionsCompleted atomic.Int64
	sessionsFailed    atomic.Int64
	messagesIgnored   atomic.Int64
	nodesExecuted     atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64
	LiveSessions      int64
	MessagesIgnored   int64

	NodesExecuted   int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnSessionStart(ctx context.Context, sess *Session) {
	m.sessionsStarted.Add(1)
}

func (m *BasicMetrics) OnSessionCompleted(ctx context.Context, sess *Session) {
	m.sessionsCompleted.Add(1)
}

func (m *BasicMetrics) OnSessionFailed(ctx context.Context, sess *Session, err error) {
	m.sessionsFailed.Add(1)
}

func (m *BasicMetrics) OnMessageIgnored(ctx context.Context, msg InboundMessage, reason string) {
	m.messagesIgnored.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, sess *Session, node NodeSpec, err error, d time.Duration) {
	// Only count successful nodes for average duration.
	if err == nil {
		m.nodesExecuted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.sessionsStarted.Load()
	completed := m.sessionsCompleted.Load()
	failed := m.sessionsFailed.Load()
	nodes := m.nodesExecuted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		SessionsStarted:   started,
		SessionsCompleted: completed,
		SessionsFailed:    failed,
		LiveSessions:      started - completed - failed,
		MessagesIgnored:   m.messagesIgnored.Load(),
		NodesExecuted:     nodes,
		AvgNodeDuration:   avg,
	}
}
