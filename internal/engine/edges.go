package engine

import (
	"strings"

	"github.com/jpelkone/convoflow/pkg/api"
)

// Edge selection is ordered by specificity, node-kind first:
//
//   - condition nodes follow the yes/no handle families based on the
//     predicate result recorded on the context;
//   - selector nodes (quick reply, list, keyword router) follow the edge
//     whose sourceHandle equals the recorded selector, with a
//     no-match/default fallback;
//   - every other node fans out: edges without a condition are all taken,
//     edges that declare one are filtered and only the first match is
//     taken.

var (
	yesHandles = map[string]bool{"yes": true, "true": true, "success": true, "positive": true}
	noHandles  = map[string]bool{"no": true, "false": true, "failure": true, "negative": true}
)

// fallback handles consulted when no sourceHandle matches a selector.
var defaultHandles = []string{"no-match", "default"}

// resolveEdges selects which outgoing edges of node to follow.
func resolveEdges(g *api.FlowGraph, node api.NodeSpec, ec *api.ExecContext, strictCondition bool) []api.Edge {
	out := g.Outgoing(node.ID)
	if len(out) == 0 {
		return nil
	}

	switch node.Kind {
	case api.KindCondition:
		return resolveConditionEdges(out, ec, strictCondition)
	case api.KindQuickReply, api.KindList, api.KindKeyword:
		return resolveSelectorEdges(out, ec.Selector())
	default:
		return resolveFanOutEdges(out, ec)
	}
}

func resolveConditionEdges(out []api.Edge, ec *api.ExecContext, strict bool) []api.Edge {
	var yes, no []api.Edge
	for _, e := range out {
		handle := strings.ToLower(e.SourceHandle)
		switch {
		case yesHandles[handle]:
			yes = append(yes, e)
		case noHandles[handle]:
			no = append(no, e)
		}
	}

	if len(yes) == 0 && len(no) == 0 {
		// Neither branch family is wired. The permissive default takes
		// every edge regardless of the predicate; strict mode takes none.
		if strict {
			return nil
		}
		return out
	}

	result, _ := ec.ConditionResult()
	if result {
		return yes
	}
	return no
}

func resolveSelectorEdges(out []api.Edge, selector string) []api.Edge {
	if selector != "" {
		var matched []api.Edge
		for _, e := range out {
			if e.SourceHandle == selector {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}

	for _, handle := range defaultHandles {
		var matched []api.Edge
		for _, e := range out {
			if strings.EqualFold(e.SourceHandle, handle) {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

func resolveFanOutEdges(out []api.Edge, ec *api.ExecContext) []api.Edge {
	var taken []api.Edge
	conditionTaken := false
	for _, e := range out {
		if e.Condition == "" {
			// Unconditional edges are all taken; this is what lets a
			// multi-action node fan out to several targets at once.
			taken = append(taken, e)
			continue
		}
		if conditionTaken {
			continue
		}
		if evalEdgeCondition(e, ec) {
			taken = append(taken, e)
			conditionTaken = true
		}
	}
	return taken
}

// evalEdgeCondition evaluates an edge-level condition. The reference value
// is the named context variable when the edge declares one, the current
// message text otherwise.
func evalEdgeCondition(e api.Edge, ec *api.ExecContext) bool {
	ref := ec.Message.Text
	if e.Variable != "" {
		if v, ok := ec.Var(e.Variable); ok {
			if s, isStr := v.(string); isStr {
				ref = s
			} else {
				ref = ""
			}
		} else {
			ref = ""
		}
	}

	switch strings.ToLower(e.Condition) {
	case api.EdgeAlways:
		return true
	case api.EdgeNever:
		return false
	case api.EdgeContains:
		return strings.Contains(strings.ToLower(ref), strings.ToLower(e.ConditionValue))
	case api.EdgeEquals:
		return strings.EqualFold(strings.TrimSpace(ref), strings.TrimSpace(e.ConditionValue))
	default:
		// Unknown condition names degrade to "always" so a newer editor
		// doesn't strand deployed flows.
		return true
	}
}
