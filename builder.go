package convoflow

import (
	"fmt"

	"github.com/jpelkone/convoflow/pkg/api"
)

// FlowBuilder provides a fluent API for defining flow graphs:
//
//	flow := convoflow.NewFlow("faq", "FAQ bot").
//	    KeywordTrigger("start", "hello,hi").
//	    Message("greet", "Welcome!").
//	    QuickReply("menu", "What do you need?",
//	        convoflow.ReplyOption{Payload: "billing", Label: "Billing"},
//	        convoflow.ReplyOption{Payload: "support", Label: "Support"},
//	    ).
//	    Edge("start", "greet").
//	    Edge("greet", "menu").
//	    EdgeWithHandle("menu", "billing-msg", "billing").
//	    EdgeWithHandle("menu", "support-msg", "support")
//
// Builder methods panic on structural misuse (empty or duplicate ids);
// flow shapes are wired at init time, so a panic there is a programming
// error, not a runtime condition.
type FlowBuilder struct {
	def api.FlowDefinition
	ids map[string]bool
}

// NewFlow creates a flow builder with the given id and display name.
func NewFlow(id, name string) *FlowBuilder {
	if id == "" {
		panic("convoflow: flow id must not be empty")
	}
	return &FlowBuilder{
		def: api.FlowDefinition{
			ID:    id,
			Name:  name,
			Nodes: make([]api.NodeDefinition, 0),
			Edges: make([]api.EdgeDefinition, 0),
		},
		ids: make(map[string]bool),
	}
}

// ID returns the flow id.
func (b *FlowBuilder) ID() string { return b.def.ID }

// Definition returns the underlying FlowDefinition.
func (b *FlowBuilder) Definition() FlowDefinition {
	return b.def
}

// Node appends a node of an arbitrary kind with a raw config map. The
// typed helpers below cover the built-in kinds; Node is the escape hatch
// for custom executors.
func (b *FlowBuilder) Node(id string, kind NodeKind, config map[string]any) *FlowBuilder {
	if id == "" {
		panic("convoflow: node id must not be empty")
	}
	if b.ids[id] {
		panic(fmt.Sprintf("convoflow: duplicate node id %q", id))
	}
	b.ids[id] = true
	b.def.Nodes = append(b.def.Nodes, api.NodeDefinition{
		ID:     id,
		Kind:   string(kind),
		Config: config,
	})
	return b
}

// Trigger appends a trigger node with a raw config map, for trigger
// conditions the typed helpers don't cover (regex, media, email subject).
func (b *FlowBuilder) Trigger(id string, config map[string]any) *FlowBuilder {
	return b.Node(id, KindTrigger, config)
}

// KeywordTrigger appends a trigger that fires when the message contains
// any of the comma-separated keywords.
func (b *FlowBuilder) KeywordTrigger(id, keywords string) *FlowBuilder {
	return b.Trigger(id, map[string]any{
		"condition": "contains",
		"keywords":  keywords,
	})
}

// PersistentKeywordTrigger is KeywordTrigger plus session persistence:
// when a traversal runs off the end of the graph the session parks at the
// trigger instead of completing, and expires after the given timeout of
// inactivity (in minutes; 0 disables expiry).
func (b *FlowBuilder) PersistentKeywordTrigger(id, keywords string, timeoutMinutes int) *FlowBuilder {
	return b.Trigger(id, map[string]any{
		"condition":         "contains",
		"keywords":          keywords,
		"sessionPersistent": true,
		"timeoutAmount":     timeoutMinutes,
		"timeoutUnit":       "minutes",
	})
}

// Message appends a text message node. The text may use {{variable}}
// placeholders.
func (b *FlowBuilder) Message(id, text string) *FlowBuilder {
	return b.Node(id, KindMessage, map[string]any{"text": text})
}

// Media appends a media message node.
func (b *FlowBuilder) Media(id, url, mediaKind, caption string) *FlowBuilder {
	return b.Node(id, KindMedia, map[string]any{
		"url":       url,
		"mediaKind": mediaKind,
		"caption":   caption,
	})
}

// Question appends a free-text question. The answer is stored under
// variableKey.
func (b *FlowBuilder) Question(id, text, variableKey string) *FlowBuilder {
	return b.Node(id, KindQuestion, map[string]any{
		"text":        text,
		"variableKey": variableKey,
	})
}

// QuickReply appends a quick-reply node. Route its branches with
// EdgeWithHandle using the option payloads as handles.
func (b *FlowBuilder) QuickReply(id, text string, options ...ReplyOption) *FlowBuilder {
	if len(options) == 0 {
		panic(fmt.Sprintf("convoflow: quick-reply node %q needs at least one option", id))
	}
	return b.Node(id, KindQuickReply, map[string]any{
		"text":    text,
		"options": optionMaps(options),
	})
}

// List appends a list-selection node, the long-menu sibling of QuickReply.
func (b *FlowBuilder) List(id, text string, options ...ReplyOption) *FlowBuilder {
	if len(options) == 0 {
		panic(fmt.Sprintf("convoflow: list node %q needs at least one option", id))
	}
	return b.Node(id, KindList, map[string]any{
		"text":    text,
		"options": optionMaps(options),
	})
}

// Condition appends a condition node evaluating operator(value) against
// the named variable, or against the message text when variable is "".
// Route its branches with EdgeWithHandle("...", "...", "yes" / "no").
func (b *FlowBuilder) Condition(id, variable, operator, value string) *FlowBuilder {
	return b.Node(id, KindCondition, map[string]any{
		"variable": variable,
		"operator": operator,
		"value":    value,
	})
}

// KeywordRouter appends a keyword router. routes pairs an edge handle
// with its comma-separated keywords; order decides precedence. Wire a
// "no-match" handle for the fallback branch.
func (b *FlowBuilder) KeywordRouter(id string, routes ...KeywordRoute) *FlowBuilder {
	raw := make([]any, 0, len(routes))
	for _, r := range routes {
		raw = append(raw, map[string]any{
			"handle":   r.Handle,
			"keywords": r.Keywords,
		})
	}
	return b.Node(id, KindKeyword, map[string]any{"routes": raw})
}

// KeywordRoute is one branch of a KeywordRouter.
type KeywordRoute struct {
	Handle   string
	Keywords string
}

// Webhook appends a webhook node that POSTs the session variables to url
// and stores the decoded response under resultVariable.
func (b *FlowBuilder) Webhook(id, url, resultVariable string) *FlowBuilder {
	return b.Node(id, KindWebhook, map[string]any{
		"url":            url,
		"resultVariable": resultVariable,
	})
}

// Handoff appends a terminal human-handoff node.
func (b *FlowBuilder) Handoff(id string) *FlowBuilder {
	return b.Node(id, KindHandoff, map[string]any{})
}

// Edge connects source to target unconditionally.
func (b *FlowBuilder) Edge(source, target string) *FlowBuilder {
	return b.addEdge(source, target, "", nil)
}

// EdgeWithHandle connects source to target through a named output handle
// (branch label, reply payload, router handle).
func (b *FlowBuilder) EdgeWithHandle(source, target, handle string) *FlowBuilder {
	return b.addEdge(source, target, handle, nil)
}

// EdgeWithCondition connects source to target through an edge-level
// condition on the message text ("contains", "equals", "always", "never").
func (b *FlowBuilder) EdgeWithCondition(source, target, condition, value string) *FlowBuilder {
	return b.addEdge(source, target, "", &api.EdgeData{
		Condition:      condition,
		ConditionValue: value,
	})
}

func (b *FlowBuilder) addEdge(source, target, handle string, data *api.EdgeData) *FlowBuilder {
	if source == "" || target == "" {
		panic("convoflow: edge needs source and target")
	}
	b.def.Edges = append(b.def.Edges, api.EdgeDefinition{
		Source:       source,
		Target:       target,
		SourceHandle: handle,
		Data:         data,
	})
	return b
}

// Register registers the built flow with the given engine.
func (b *FlowBuilder) Register(eng Engine) error {
	return eng.RegisterFlow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

func optionMaps(options []ReplyOption) []any {
	out := make([]any, 0, len(options))
	for _, opt := range options {
		out = append(out, map[string]any{
			"payload": opt.Payload,
			"label":   opt.Label,
		})
	}
	return out
}
