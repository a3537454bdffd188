package api

import "time"

// EventType identifies a session history event.
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionWaiting   EventType = "session.waiting"
	EventSessionResumed   EventType = "session.resumed"
	EventSessionCompleted EventType = "session.completed"
	EventSessionFailed    EventType = "session.failed"
	EventSessionTimeout   EventType = "session.timeout"
	EventSessionPaused    EventType = "session.paused"
	EventSessionAbandoned EventType = "session.abandoned"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"

	EventMessageIgnored EventType = "message.ignored"
)

// SessionEvent is a minimal append-only history record for audit/debugging.
// It is intentionally small and stable; richer history can be layered later.
type SessionEvent struct {
	SessionID string
	At        time.Time
	Type      EventType

	// Optional context.
	FlowID string
	NodeID string

	// Small, human-oriented details (e.g. trigger keyword, error string).
	// Keep this low-volume: do NOT dump large payloads here.
	Detail string
}
