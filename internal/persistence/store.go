package persistence

import (
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// Re-export the api sentinels so store implementations and the engine can
// share a single identity.
var (
	ErrFlowNotFound    = api.ErrFlowNotFound
	ErrSessionNotFound = api.ErrSessionNotFound
)

// FlowStore handles storage of flow definitions and their assignment
// order. Trigger matching iterates Assignments in the order flows were
// saved, which keeps trigger precedence deterministic.
type FlowStore interface {
	SaveFlow(def api.FlowDefinition) error
	GetFlow(id string) (api.FlowDefinition, error)
	// Assignments returns the registered flow ids in persisted order.
	Assignments() ([]string, error)
}

// SessionFilter is used to select sessions from the store.
// Empty string / zero status mean "no filter" for that field.
type SessionFilter struct {
	FlowID         string
	ConversationID string
	Status         api.SessionStatus
}

// SessionStore handles storage of flow sessions. The engine treats all
// fields except ExecutionPath / Variables / Waiting as opaque scalars;
// those three round-trip through the JSON codec.
type SessionStore interface {
	SaveSession(sess *api.Session) error
	UpdateSession(sess *api.Session) error
	GetSession(id string) (*api.Session, error)
	ListSessions(filter SessionFilter) ([]*api.Session, error)

	// ListActiveForConversation returns the live (ACTIVE or WAITING)
	// sessions of one conversation.
	ListActiveForConversation(conversationID string) ([]*api.Session, error)

	// ListExpired returns live sessions whose ExpiresAt lies before now.
	ListExpired(now time.Time) ([]*api.Session, error)
}

// EventStore persists append-only session history events.
type EventStore interface {
	AppendEvent(ev api.SessionEvent) error
	ListEvents(sessionID string) ([]api.SessionEvent, error)
}

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction. Events may be nil; history is then disabled.
type Persistence struct {
	Flows    FlowStore
	Sessions SessionStore
	Events   EventStore
}
