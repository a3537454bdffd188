package api

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id cannot be resolved.
	ErrSessionNotFound = errors.New("session not found")

	// ErrFlowNotFound is returned when a flow id cannot be resolved.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrDuplicateMessage marks an inbound message rejected because the
	// same (conversation, message) pair was already seen.
	ErrDuplicateMessage = errors.New("duplicate message delivery")
)

// CycleError fails a session when a traversal revisits a node id within
// one inbound-message-triggered traversal. Revisits across separate turns
// are legitimate and do not trip it.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected at node %s", e.NodeID)
}

// DepthError fails a session when a traversal exceeds the step ceiling.
type DepthError struct {
	MaxSteps int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("traversal exceeded %d steps", e.MaxSteps)
}

// GraphIntegrityError reports a dangling reference inside a flow graph.
// It is logged and treated as "no outgoing path", never as a session
// failure, except when the session's own current node has been edited out.
type GraphIntegrityError struct {
	FlowID string
	NodeID string
}

func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("flow %s references missing node %s", e.FlowID, e.NodeID)
}
