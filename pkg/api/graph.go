package api

import (
	"encoding/json"
	"strconv"
)

// NodeKind identifies what a node does. The set is closed at the parse
// boundary: definitions may carry arbitrary kind strings (flows deployed
// against a newer editor than this engine), but anything we do not know is
// quarantined as KindUnknown rather than dropped, so the raw kind survives
// round-trips and the engine can still walk past the node.
type NodeKind string

const (
	KindTrigger    NodeKind = "trigger"
	KindMessage    NodeKind = "message"
	KindMedia      NodeKind = "media"
	KindQuestion   NodeKind = "question"
	KindQuickReply NodeKind = "quick_reply"
	KindList       NodeKind = "list"
	KindCondition  NodeKind = "condition"
	KindKeyword    NodeKind = "keyword"
	KindWebhook    NodeKind = "webhook"
	KindHandoff    NodeKind = "handoff"
	KindUnknown    NodeKind = "unknown"
)

var knownKinds = map[NodeKind]bool{
	KindTrigger:    true,
	KindMessage:    true,
	KindMedia:      true,
	KindQuestion:   true,
	KindQuickReply: true,
	KindList:       true,
	KindCondition:  true,
	KindKeyword:    true,
	KindWebhook:    true,
	KindHandoff:    true,
}

// ParseNodeKind maps a raw kind string onto the closed kind set.
func ParseNodeKind(raw string) NodeKind {
	k := NodeKind(raw)
	if knownKinds[k] {
		return k
	}
	return KindUnknown
}

// NodeSpec is one node of a flow graph. Config carries the node-kind
// specific settings exactly as they appear in the stored definition.
type NodeSpec struct {
	ID      string
	Kind    NodeKind
	RawKind string
	Config  map[string]any
}

// Config accessors. Stored definitions are JSON, so numbers arrive as
// float64 and lists as []any; these helpers normalize the common shapes
// so node handlers don't repeat the type juggling.

// ConfigString returns the string value at key, or "" if absent or not a string.
func (n NodeSpec) ConfigString(key string) string {
	s, _ := n.Config[key].(string)
	return s
}

// ConfigBool returns the bool value at key, or false if absent.
func (n NodeSpec) ConfigBool(key string) bool {
	b, _ := n.Config[key].(bool)
	return b
}

// ConfigNumber returns the numeric value at key, or 0 if absent.
// JSON numbers decode as float64; integers stored as strings are accepted too.
func (n NodeSpec) ConfigNumber(key string) float64 {
	switch v := n.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// ConfigStrings returns the value at key as a string slice. It accepts
// either a JSON array of strings or a single string.
func (n NodeSpec) ConfigStrings(key string) []string {
	switch v := n.Config[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Edge is a directed edge between two nodes. SourceHandle names the output
// port on the source node (branch label, reply option id). Condition and
// ConditionValue form an optional edge-level filter; an empty Condition
// means the edge is always a candidate.
type Edge struct {
	Source         string
	Target         string
	SourceHandle   string
	Condition      string
	ConditionValue string
	Variable       string
}

// Edge-level condition names.
const (
	EdgeAlways   = "always"
	EdgeNever    = "never"
	EdgeContains = "contains"
	EdgeEquals   = "equals"
)

// FlowDefinition is the stored, wire-level shape of a flow. It is parsed
// on each access; the engine never assumes schema versioning.
type FlowDefinition struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Nodes []NodeDefinition `json:"nodes"`
	Edges []EdgeDefinition `json:"edges"`
}

// NodeDefinition is the wire shape of a node.
type NodeDefinition struct {
	ID     string         `json:"id"`
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// EdgeDefinition is the wire shape of an edge.
type EdgeDefinition struct {
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	SourceHandle string    `json:"sourceHandle,omitempty"`
	Data         *EdgeData `json:"data,omitempty"`
}

// EdgeData carries the optional edge-level condition.
type EdgeData struct {
	Condition      string `json:"condition,omitempty"`
	ConditionValue string `json:"conditionValue,omitempty"`
	Variable       string `json:"variable,omitempty"`
}

// ParseFlowDefinition decodes a stored flow definition. Malformed input
// degrades to an empty definition; the error is informational so callers
// can log it, but an empty graph is always usable.
func ParseFlowDefinition(data []byte) (FlowDefinition, error) {
	var def FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return FlowDefinition{}, err
	}
	return def, nil
}

// FlowGraph is the immutable per-traversal view of a flow definition.
type FlowGraph struct {
	flowID   string
	nodes    map[string]NodeSpec
	outgoing map[string][]Edge
	triggers []string
}

// BuildGraph indexes a definition into a FlowGraph. Duplicate node ids keep
// the first occurrence; edges referencing unknown nodes are kept as-is and
// tolerated at traversal time as "no matching target".
func BuildGraph(def FlowDefinition) *FlowGraph {
	g := &FlowGraph{
		flowID:   def.ID,
		nodes:    make(map[string]NodeSpec, len(def.Nodes)),
		outgoing: make(map[string][]Edge),
	}

	for _, nd := range def.Nodes {
		if nd.ID == "" {
			continue
		}
		if _, exists := g.nodes[nd.ID]; exists {
			continue
		}
		spec := NodeSpec{
			ID:      nd.ID,
			Kind:    ParseNodeKind(nd.Kind),
			RawKind: nd.Kind,
			Config:  nd.Config,
		}
		g.nodes[nd.ID] = spec
		if spec.Kind == KindTrigger {
			g.triggers = append(g.triggers, nd.ID)
		}
	}

	for _, ed := range def.Edges {
		if ed.Source == "" || ed.Target == "" {
			continue
		}
		e := Edge{
			Source:       ed.Source,
			Target:       ed.Target,
			SourceHandle: ed.SourceHandle,
		}
		if ed.Data != nil {
			e.Condition = ed.Data.Condition
			e.ConditionValue = ed.Data.ConditionValue
			e.Variable = ed.Data.Variable
		}
		g.outgoing[ed.Source] = append(g.outgoing[ed.Source], e)
	}

	return g
}

// FlowID returns the id of the definition this graph was built from.
func (g *FlowGraph) FlowID() string { return g.flowID }

// Node looks up a node by id.
func (g *FlowGraph) Node(id string) (NodeSpec, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the outgoing edges of a node in definition order.
func (g *FlowGraph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// Triggers returns the trigger nodes in definition order.
func (g *FlowGraph) Triggers() []NodeSpec {
	out := make([]NodeSpec, 0, len(g.triggers))
	for _, id := range g.triggers {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len returns the number of nodes in the graph.
func (g *FlowGraph) Len() int { return len(g.nodes) }
