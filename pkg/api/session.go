package api

import "time"

// SessionStatus represents the lifecycle state of a flow session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "ACTIVE"
	StatusWaiting   SessionStatus = "WAITING"
	StatusPaused    SessionStatus = "PAUSED"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusFailed    SessionStatus = "FAILED"
	StatusAbandoned SessionStatus = "ABANDONED"
	StatusTimeout   SessionStatus = "TIMEOUT"
)

// InputShape describes what kind of user input a waiting session expects.
type InputShape string

const (
	InputFreeText  InputShape = "free_text"
	InputSelection InputShape = "selection"
	InputLocation  InputShape = "location"
	InputMedia     InputShape = "media"
)

// ReplyOption is one selectable answer of a quick-reply or list node.
type ReplyOption struct {
	Payload string `json:"payload"`
	Label   string `json:"label"`
}

// WaitingContext describes the input a waiting session will accept.
// It is set if and only if the session status is WAITING.
type WaitingContext struct {
	NodeID      string        `json:"nodeId"`
	Expect      InputShape    `json:"expect"`
	Options     []ReplyOption `json:"options,omitempty"`
	VariableKey string        `json:"variableKey,omitempty"`
}

// Session is the durable record of one contact's progress through one flow.
//
// Invariant: at most one session per (TriggerNodeID, ConversationID,
// ContactID) is in {ACTIVE, WAITING} at a time; the engine enforces this
// when trigger matching would otherwise create a second one.
type Session struct {
	ID             string
	FlowID         string
	ConversationID string
	ContactID      string
	CompanyID      string

	Status        SessionStatus
	CurrentNodeID string
	TriggerNodeID string

	// ExecutionPath is the append-only list of visited node ids.
	ExecutionPath []string

	// Variables is the string-keyed bag of JSON-serializable values that
	// survives across turns. Anything a traversal wants to keep must be
	// written here explicitly.
	Variables map[string]any

	// Waiting is set only while Status is StatusWaiting.
	Waiting *WaitingContext

	// Err records why the session failed; nil otherwise.
	Err error

	StartedAt      time.Time
	LastActivityAt time.Time

	// ExpiresAt is the inactivity deadline, recomputed on every successful
	// step from the trigger's timeout config. Nil means no auto-expiry.
	ExpiresAt *time.Time
}

// IsLive reports whether the session can still make progress on its own
// (ACTIVE or WAITING). Sessions outside this set are evicted from caches
// but retained durably.
func (s *Session) IsLive() bool {
	return s.Status == StatusActive || s.Status == StatusWaiting
}

// Expired reports whether the session's inactivity deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Clone returns a deep-enough copy for handing out of a cache: the path
// slice and variable map are copied, the rest is value-copied.
func (s *Session) Clone() *Session {
	cp := *s
	if s.ExecutionPath != nil {
		cp.ExecutionPath = append([]string(nil), s.ExecutionPath...)
	}
	if s.Variables != nil {
		cp.Variables = make(map[string]any, len(s.Variables))
		for k, v := range s.Variables {
			cp.Variables[k] = v
		}
	}
	if s.Waiting != nil {
		w := *s.Waiting
		w.Options = append([]ReplyOption(nil), s.Waiting.Options...)
		cp.Waiting = &w
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Location is a shared geo coordinate from a location message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InboundMessage is one user message delivered to the engine. ID must be
// the channel's message id: the concurrency guard uses (ConversationID, ID)
// to reject duplicate deliveries of the same message outright.
type InboundMessage struct {
	ID             string
	ConversationID string
	ContactID      string
	CompanyID      string

	// Channel is the channel type the message arrived on ("whatsapp",
	// "telegram", "email", ...). Triggers may restrict which channels
	// they respond to.
	Channel string

	Text      string
	Payload   string // interactive reply payload (button / list row id)
	Subject   string // email subject, when applicable
	MediaURL  string
	MediaKind string
	Location  *Location

	ReceivedAt time.Time
}

// HasMedia reports whether the message carries a media attachment.
func (m InboundMessage) HasMedia() bool { return m.MediaURL != "" }

// SessionListOptions controls how sessions are listed.
// Zero values mean "no filter" for that field.
type SessionListOptions struct {
	FlowID         string
	ConversationID string
	Status         SessionStatus
}

// HandleResult reports what the engine did with one inbound message.
type HandleResult struct {
	// Handled is true when some session consumed the message, either by
	// resuming a wait or by matching a trigger.
	Handled bool

	// Duplicate is true when the message was rejected as a redelivery of
	// an already seen (conversation, message) pair. Handled is false.
	Duplicate bool

	// CreatedSession is true when trigger matching created a new session.
	CreatedSession bool

	// Session is the session that consumed the message, in its state after
	// the traversal finished. Nil when Handled is false.
	Session *Session

	// MatchedKeyword is the trigger keyword that matched, for trigger
	// conditions that report one (contains, multiple_keywords).
	MatchedKeyword string
}
