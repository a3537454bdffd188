package convoflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowBuilderProducesDefinition(t *testing.T) {
	def := NewFlow("faq", "FAQ bot").
		PersistentKeywordTrigger("start", "hello,hi", 30).
		Message("greet", "Welcome, {{contact.id}}!").
		QuickReply("menu", "What do you need?",
			ReplyOption{Payload: "billing", Label: "Billing"},
			ReplyOption{Payload: "support", Label: "Support"},
		).
		Condition("is-vip", "tier", "equals", "vip").
		Webhook("lookup", "https://api.example/orders", "order.result").
		Handoff("agent").
		Edge("start", "greet").
		Edge("greet", "menu").
		EdgeWithHandle("menu", "lookup", "billing").
		EdgeWithHandle("menu", "agent", "support").
		EdgeWithCondition("lookup", "agent", "contains", "escalate").
		Definition()

	assert.Equal(t, "faq", def.ID)
	assert.Equal(t, "FAQ bot", def.Name)
	require.Len(t, def.Nodes, 6)
	require.Len(t, def.Edges, 5)

	trigger := def.Nodes[0]
	assert.Equal(t, "trigger", trigger.Kind)
	assert.Equal(t, "hello,hi", trigger.Config["keywords"])
	assert.Equal(t, true, trigger.Config["sessionPersistent"])
	assert.Equal(t, 30, trigger.Config["timeoutAmount"])
	assert.Equal(t, "minutes", trigger.Config["timeoutUnit"])

	menu := def.Nodes[2]
	assert.Equal(t, "quick_reply", menu.Kind)
	opts, ok := menu.Config["options"].([]any)
	require.True(t, ok)
	require.Len(t, opts, 2)
	first, ok := opts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "billing", first["payload"])
	assert.Equal(t, "Billing", first["label"])

	cond := def.Nodes[3]
	assert.Equal(t, "tier", cond.Config["variable"])
	assert.Equal(t, "equals", cond.Config["operator"])
	assert.Equal(t, "vip", cond.Config["value"])

	handled := def.Edges[2]
	assert.Equal(t, "menu", handled.Source)
	assert.Equal(t, "billing", handled.SourceHandle)

	conditional := def.Edges[4]
	require.NotNil(t, conditional.Data)
	assert.Equal(t, "contains", conditional.Data.Condition)
	assert.Equal(t, "escalate", conditional.Data.ConditionValue)
}

func TestFlowBuilderPanicsOnMisuse(t *testing.T) {
	assert.Panics(t, func() { NewFlow("", "no id") })
	assert.Panics(t, func() { NewFlow("f", "f").Message("", "text") })
	assert.Panics(t, func() {
		NewFlow("f", "f").Message("a", "one").Message("a", "two")
	})
	assert.Panics(t, func() { NewFlow("f", "f").QuickReply("menu", "pick one") })
	assert.Panics(t, func() { NewFlow("f", "f").Edge("", "b") })
	assert.Panics(t, func() { NewFlow("f", "f").Edge("a", "") })
}

func TestKeywordRouterConfigShape(t *testing.T) {
	def := NewFlow("router", "Router").
		KeywordTrigger("start", "help").
		KeywordRouter("route",
			KeywordRoute{Handle: "billing", Keywords: "invoice,payment"},
			KeywordRoute{Handle: "support", Keywords: "bug,crash"},
		).
		Edge("start", "route").
		Definition()

	router := def.Nodes[1]
	routes, ok := router.Config["routes"].([]any)
	require.True(t, ok)
	require.Len(t, routes, 2)
	second, ok := routes[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "support", second["handle"])
	assert.Equal(t, "bug,crash", second["keywords"])
}

func TestMustRegisterRegistersWithEngine(t *testing.T) {
	eng := NewInMemoryEngine()
	NewFlow("greeter", "Greeter").
		KeywordTrigger("start", "hello").
		Message("greet", "Hi!").
		Edge("start", "greet").
		MustRegister(eng)

	// A second flow registers behind the first; registration must not error.
	b := NewFlow("second", "Second").KeywordTrigger("s2", "yo")
	require.NoError(t, b.Register(eng))
}
