package api

import (
	"fmt"
	"strings"
	"time"
)

// ExecContext is the per-traversal scratch space. It is rebuilt at the
// start of every traversal from the session's persisted variables plus the
// request-scoped bindings (current message), and thrown away afterwards.
// Variables written here are copied back into the session by the engine at
// each persist point.
//
// ExecContext is not safe for concurrent use; a traversal is single-flight
// by construction (the conversation guard serializes it).
type ExecContext struct {
	Message InboundMessage

	vars map[string]any

	// Branch-selection scratch, written by node handlers and read by the
	// edge resolver within the same step.
	selector     string
	condition    bool
	conditionSet bool

	// Idempotency ledger, keyed by (nodeID, pathID). Lives exactly as long
	// as this context: a later message reaching the same node fires again.
	ledger map[string]ledgerEntry

	// currentPath is the visited-node path of the frame being executed,
	// maintained by the engine so handlers can derive their path id.
	currentPath []string
}

type ledgerEntry struct {
	result     any
	err        error
	executedAt time.Time
}

// Well-known variable keys bound fresh on every traversal.
const (
	VarMessageText = "message.text"
	VarContactID   = "contact.id"
	VarChannel     = "message.channel"
)

// NewExecContext builds a context seeded from the session's variables and
// the inbound message. The session variable map is copied, never aliased.
func NewExecContext(msg InboundMessage, sessionVars map[string]any) *ExecContext {
	vars := make(map[string]any, len(sessionVars)+3)
	for k, v := range sessionVars {
		vars[k] = v
	}
	vars[VarMessageText] = msg.Text
	vars[VarContactID] = msg.ContactID
	vars[VarChannel] = msg.Channel

	return &ExecContext{
		Message: msg,
		vars:    vars,
		ledger:  make(map[string]ledgerEntry),
	}
}

// Var returns the raw variable value at key.
func (c *ExecContext) Var(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// SetVar stores a variable. The value must be JSON-serializable if it is
// meant to survive into the session.
func (c *ExecContext) SetVar(key string, value any) {
	c.vars[key] = value
}

// Vars returns a copy of the variable bag for writing back into a session.
func (c *ExecContext) Vars() map[string]any {
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Typed accessors. Handlers declare the shape they expect and get a real
// error on mismatch instead of propagating a zero value.

// StringVar returns the variable at key as a string.
func (c *ExecContext) StringVar(key string) (string, error) {
	v, ok := c.vars[key]
	if !ok {
		return "", fmt.Errorf("variable %q not set", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("variable %q is %T, want string", key, v)
	}
	return s, nil
}

// NumberVar returns the variable at key as a float64.
func (c *ExecContext) NumberVar(key string) (float64, error) {
	v, ok := c.vars[key]
	if !ok {
		return 0, fmt.Errorf("variable %q not set", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("variable %q is %T, want number", key, v)
	}
}

// BoolVar returns the variable at key as a bool.
func (c *ExecContext) BoolVar(key string) (bool, error) {
	v, ok := c.vars[key]
	if !ok {
		return false, fmt.Errorf("variable %q not set", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("variable %q is %T, want bool", key, v)
	}
	return b, nil
}

// MapVar returns the variable at key as a structured record.
func (c *ExecContext) MapVar(key string) (map[string]any, error) {
	v, ok := c.vars[key]
	if !ok {
		return nil, fmt.Errorf("variable %q not set", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("variable %q is %T, want map", key, v)
	}
	return m, nil
}

// ListVar returns the variable at key as a list.
func (c *ExecContext) ListVar(key string) ([]any, error) {
	v, ok := c.vars[key]
	if !ok {
		return nil, fmt.Errorf("variable %q not set", key)
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("variable %q is %T, want list", key, v)
	}
	return l, nil
}

// SetSelector records the matched selector (keyword id, button payload,
// list row id) for the edge resolver.
func (c *ExecContext) SetSelector(sel string) { c.selector = sel }

// Selector returns the recorded selector, "" if none.
func (c *ExecContext) Selector() string { return c.selector }

// SetConditionResult records a condition node's predicate result.
func (c *ExecContext) SetConditionResult(v bool) {
	c.condition = v
	c.conditionSet = true
}

// ConditionResult returns the recorded predicate result and whether one
// was recorded during this step.
func (c *ExecContext) ConditionResult() (bool, bool) {
	return c.condition, c.conditionSet
}

// SetCurrentPath is called by the engine before dispatching a node so the
// handler-visible path id matches the frame being executed.
func (c *ExecContext) SetCurrentPath(path []string) { c.currentPath = path }

// PathID is the join of visited node ids up to (not including) the node
// being executed. Two fan-out branches reaching the same node id therefore
// get distinct ledger keys.
func (c *ExecContext) PathID() string {
	return strings.Join(c.currentPath, ">")
}

func ledgerKey(nodeID, pathID string) string {
	return nodeID + "|" + pathID
}

// ReplayEffect returns the cached result of a prior invocation of
// (nodeID, pathID) within this traversal, if any.
func (c *ExecContext) ReplayEffect(nodeID, pathID string) (result any, err error, ok bool) {
	e, ok := c.ledger[ledgerKey(nodeID, pathID)]
	if !ok {
		return nil, nil, false
	}
	return e.result, e.err, true
}

// RecordEffect stores the outcome of a side effect so a revisit on the
// same path replays it instead of repeating the effect.
func (c *ExecContext) RecordEffect(nodeID, pathID string, result any, err error) {
	c.ledger[ledgerKey(nodeID, pathID)] = ledgerEntry{
		result:     result,
		err:        err,
		executedAt: time.Now(),
	}
}

// RenderTemplate substitutes {{name}} placeholders with the string form of
// the named variable. Unknown names render as empty.
func (c *ExecContext) RenderTemplate(tmpl string) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : start+end])
		if v, ok := c.vars[name]; ok {
			b.WriteString(stringify(v))
		}
		rest = rest[start+end+2:]
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
