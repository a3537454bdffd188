package api

import (
	"context"
	"time"
)

// Engine is the high-level session engine API. All mutation of session
// state flows through it; callers never write to the store directly.
type Engine interface {
	// RegisterFlow registers a flow definition. Registration order is the
	// assignment order trigger matching iterates in, so precedence between
	// overlapping triggers is deterministic.
	RegisterFlow(def FlowDefinition) error

	// HandleMessage processes one inbound message for its conversation:
	// duplicate rejection, waiting-session resume, then fresh trigger
	// matching. All traversal work triggered by the message completes
	// before HandleMessage returns.
	HandleMessage(ctx context.Context, msg InboundMessage) (*HandleResult, error)

	// GetSession looks up a session by id.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions matching the given options.
	// If options are zero-valued, all sessions are returned.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]*Session, error)

	// PauseSession freezes a live session externally. Only the caller can
	// thaw it with ResumeSession; the engine never derives PAUSED itself.
	PauseSession(ctx context.Context, id string) error

	// ResumeSession thaws a paused session back to its pre-pause state
	// (WAITING if it has a waiting context, ACTIVE otherwise).
	ResumeSession(ctx context.Context, id string) error

	// AbandonSession marks a live or paused session ABANDONED.
	AbandonSession(ctx context.Context, id string) error

	// ExpireSessions runs one expiry sweep: every live session whose
	// ExpiresAt lies before now transitions to TIMEOUT. It returns the
	// number of sessions it transitioned. The sweep takes the same
	// per-conversation exclusion as message handling, so it never mutates
	// a session mid-traversal.
	ExpireSessions(ctx context.Context, now time.Time) (int, error)

	// RecoverStuckSessions scans for sessions left ACTIVE mid-traversal
	// (for example after a process crash) and marks them FAILED. Sessions
	// legitimately parked ACTIVE at their trigger node are skipped.
	//
	// It is intended to be called on process startup before accepting
	// messages, so that no session is legitimately running when it runs.
	RecoverStuckSessions(ctx context.Context) (int, error)
}
