package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// Built-in executors for the closed node-kind set. They are registered by
// NewBuiltinRegistry and can be individually overridden through
// Registry.Replace, so node business logic stays pluggable while the
// engine remains usable out of the box.

// NewBuiltinRegistry returns a Registry with the built-in executors bound
// to every known node kind. connector may be nil, in which case outbound
// sends are discarded.
func NewBuiltinRegistry(connector api.ChannelConnector, logger *slog.Logger) *api.Registry {
	if connector == nil {
		connector = &api.NopConnector{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := api.NewRegistry()
	must := func(kind api.NodeKind, exec api.NodeExecutor) {
		if err := r.Register(kind, exec); err != nil {
			panic(err)
		}
	}

	must(api.KindTrigger, api.ExecutorFunc(execTrigger))
	must(api.KindMessage, &messageExecutor{connector: connector, logger: logger})
	must(api.KindMedia, &mediaExecutor{connector: connector, logger: logger})
	must(api.KindQuestion, &questionExecutor{connector: connector, logger: logger})
	must(api.KindQuickReply, &choiceExecutor{connector: connector, logger: logger})
	must(api.KindList, &choiceExecutor{connector: connector, logger: logger})
	must(api.KindCondition, api.ExecutorFunc(execCondition))
	must(api.KindKeyword, api.ExecutorFunc(execKeywordRouter))
	must(api.KindWebhook, &webhookExecutor{client: &http.Client{}})
	must(api.KindHandoff, api.ExecutorFunc(execHandoff))
	must(api.KindUnknown, &unknownExecutor{logger: logger})

	return r
}

// execTrigger is a no-op: the trigger's matching already happened when the
// session was created, and resuming a persistent session re-evaluates it
// before the traversal starts.
func execTrigger(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	return api.Continue()
}

// messageExecutor sends a text message. Delivery failures are logged, not
// fatal: the connector reports a typed *api.DeliveryError and the
// traversal moves on.
type messageExecutor struct {
	connector api.ChannelConnector
	logger    *slog.Logger
}

func (x *messageExecutor) Execute(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	text := ec.RenderTemplate(node.ConfigString("text"))
	if text == "" {
		return api.Continue()
	}
	ref, err := x.connector.SendText(ctx, ec.Message.ConversationID, ec.Message.ContactID, text)
	if err != nil {
		x.logger.WarnContext(ctx, "send_text_failed",
			slog.String("node", node.ID),
			slog.Any("error", err),
		)
		return api.Continue()
	}
	ec.SetVar("delivery."+node.ID, ref)
	return api.Continue()
}

// mediaExecutor sends a media message.
type mediaExecutor struct {
	connector api.ChannelConnector
	logger    *slog.Logger
}

func (x *mediaExecutor) Execute(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	url := node.ConfigString("url")
	if url == "" {
		return api.Continue()
	}
	kind := api.MediaKind(node.ConfigString("mediaKind"))
	if kind == "" {
		kind = api.MediaImage
	}
	caption := ec.RenderTemplate(node.ConfigString("caption"))

	ref, err := x.connector.SendMedia(ctx, ec.Message.ConversationID, ec.Message.ContactID, kind, url, caption)
	if err != nil {
		x.logger.WarnContext(ctx, "send_media_failed",
			slog.String("node", node.ID),
			slog.Any("error", err),
		)
		return api.Continue()
	}
	ec.SetVar("delivery."+node.ID, ref)
	return api.Continue()
}

// questionExecutor sends an optional prompt and parks the session for a
// free-text (or location/media) answer.
type questionExecutor struct {
	connector api.ChannelConnector
	logger    *slog.Logger
}

func (x *questionExecutor) Execute(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	if text := ec.RenderTemplate(node.ConfigString("text")); text != "" {
		if _, err := x.connector.SendText(ctx, ec.Message.ConversationID, ec.Message.ContactID, text); err != nil {
			x.logger.WarnContext(ctx, "send_text_failed",
				slog.String("node", node.ID),
				slog.Any("error", err),
			)
		}
	}

	expect := api.InputShape(node.ConfigString("expect"))
	switch expect {
	case api.InputLocation, api.InputMedia:
	default:
		expect = api.InputFreeText
	}

	return api.WaitForInput(&api.WaitingContext{
		NodeID:      node.ID,
		Expect:      expect,
		VariableKey: variableKey(node, "answer"),
	})
}

func (x *questionExecutor) MatchResumedInput(node api.NodeSpec, wc *api.WaitingContext, msg api.InboundMessage, ec *api.ExecContext) (any, bool) {
	switch wc.Expect {
	case api.InputLocation:
		if msg.Location == nil {
			return nil, false
		}
		return map[string]any{
			"latitude":  msg.Location.Latitude,
			"longitude": msg.Location.Longitude,
		}, true
	case api.InputMedia:
		if !msg.HasMedia() {
			return nil, false
		}
		return msg.MediaURL, true
	default:
		if strings.TrimSpace(msg.Text) == "" {
			return nil, false
		}
		return msg.Text, true
	}
}

// choiceExecutor serves quick-reply and list nodes: it sends the prompt
// with its options and waits for one of the configured selections.
type choiceExecutor struct {
	connector api.ChannelConnector
	logger    *slog.Logger
}

func (x *choiceExecutor) Execute(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	options := nodeOptions(node)
	if len(options) == 0 {
		return api.Failf("node %s has no options configured", node.ID)
	}

	if text := ec.RenderTemplate(node.ConfigString("text")); text != "" {
		var b strings.Builder
		b.WriteString(text)
		for i, opt := range options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
		}
		if _, err := x.connector.SendText(ctx, ec.Message.ConversationID, ec.Message.ContactID, b.String()); err != nil {
			x.logger.WarnContext(ctx, "send_text_failed",
				slog.String("node", node.ID),
				slog.Any("error", err),
			)
		}
	}

	return api.WaitForInput(&api.WaitingContext{
		NodeID:      node.ID,
		Expect:      api.InputSelection,
		Options:     options,
		VariableKey: variableKey(node, "selection"),
	})
}

// MatchResumedInput accepts an interactive payload, an option label, or a
// 1-based selection index. The matched option's payload becomes both the
// captured value and the selector for edge resolution.
func (x *choiceExecutor) MatchResumedInput(node api.NodeSpec, wc *api.WaitingContext, msg api.InboundMessage, ec *api.ExecContext) (any, bool) {
	text := strings.TrimSpace(msg.Text)

	for _, opt := range wc.Options {
		if msg.Payload != "" && msg.Payload == opt.Payload {
			ec.SetSelector(opt.Payload)
			return opt.Payload, true
		}
		if text != "" && strings.EqualFold(text, opt.Label) {
			ec.SetSelector(opt.Payload)
			return opt.Payload, true
		}
	}

	if idx, err := strconv.Atoi(text); err == nil {
		if idx >= 1 && idx <= len(wc.Options) {
			opt := wc.Options[idx-1]
			ec.SetSelector(opt.Payload)
			return opt.Payload, true
		}
	}

	return nil, false
}

func nodeOptions(node api.NodeSpec) []api.ReplyOption {
	raw, ok := node.Config["options"].([]any)
	if !ok {
		return nil
	}
	options := make([]api.ReplyOption, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		opt := api.ReplyOption{}
		opt.Payload, _ = m["payload"].(string)
		opt.Label, _ = m["label"].(string)
		if opt.Payload == "" {
			opt.Payload = fmt.Sprintf("option-%d", i+1)
		}
		if opt.Label == "" {
			opt.Label = opt.Payload
		}
		options = append(options, opt)
	}
	return options
}

func variableKey(node api.NodeSpec, fallback string) string {
	if key := node.ConfigString("variableKey"); key != "" {
		return key
	}
	return node.ID + "." + fallback
}

// execCondition evaluates the node's predicate once and records the
// result for the edge resolver. The reference value is the named variable
// when configured, the message text otherwise.
func execCondition(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	ref := ec.Message.Text
	if name := node.ConfigString("variable"); name != "" {
		ref = ""
		if v, ok := ec.Var(name); ok {
			if s, isStr := v.(string); isStr {
				ref = s
			} else if v != nil {
				ref = fmt.Sprintf("%v", v)
			}
		}
	}
	value := node.ConfigString("value")

	var result bool
	switch strings.ToLower(node.ConfigString("operator")) {
	case "", "contains":
		result = strings.Contains(strings.ToLower(ref), strings.ToLower(value))
	case "equals":
		result = strings.EqualFold(strings.TrimSpace(ref), strings.TrimSpace(value))
	case "regex":
		re, err := regexp.Compile(value)
		if err != nil {
			return api.Failf("node %s has invalid pattern: %v", node.ID, err)
		}
		result = re.MatchString(ref)
	case "exists":
		result = ref != ""
	default:
		return api.Failf("node %s has unknown operator %q", node.ID, node.ConfigString("operator"))
	}

	ec.SetConditionResult(result)
	return api.Continue()
}

// execKeywordRouter matches the message text against the node's routes
// and records the matching route's handle as the selector. With no match
// the selector is cleared so the resolver falls back to no-match/default.
func execKeywordRouter(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	routes, _ := node.Config["routes"].([]any)
	for _, item := range routes {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		handle, _ := m["handle"].(string)
		keywords, _ := m["keywords"].(string)
		if handle == "" || keywords == "" {
			continue
		}
		if kw := matchKeyword(ec.Message.Text, keywords); kw != "" {
			ec.SetSelector(handle)
			ec.SetVar(node.ID+".keyword", kw)
			return api.Continue()
		}
	}
	ec.SetSelector("")
	return api.Continue()
}

// webhookExecutor POSTs the session variables to the configured URL and
// stores the decoded response in the result variable. It is the canonical
// side-effecting executor: before acting it consults the traversal's
// idempotency ledger, so a revisit on the same path replays the recorded
// result (or error) instead of firing twice.
type webhookExecutor struct {
	client *http.Client
}

const (
	defaultWebhookTimeout = 10 * time.Second
	maxWebhookBody        = 1 << 20
)

var errWebhookNoURL = errors.New("webhook node has no url configured")

func (x *webhookExecutor) Execute(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	resultKey := node.ConfigString("resultVariable")
	if resultKey == "" {
		resultKey = node.ID + ".result"
	}

	pathID := ec.PathID()
	if result, cachedErr, ok := ec.ReplayEffect(node.ID, pathID); ok {
		if cachedErr != nil {
			return x.failure(node, cachedErr)
		}
		ec.SetVar(resultKey, result)
		return api.Continue()
	}

	result, err := x.callWithRetry(ctx, node, ec)
	ec.RecordEffect(node.ID, pathID, result, err)
	if err != nil {
		return x.failure(node, err)
	}
	ec.SetVar(resultKey, result)
	return api.Continue()
}

// callWithRetry drives call through the node's attempt budget. A node
// opts in with retryAttempts; the delay schedule is exponential from
// retryBackoffMs (default 250ms). Only the final result reaches the
// idempotency ledger, so a replay never re-runs the budget.
func (x *webhookExecutor) callWithRetry(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) (any, error) {
	result, err := x.call(ctx, node, ec)
	if err == nil {
		return result, nil
	}

	policy := api.BackoffPolicy{MaxAttempts: int(node.ConfigNumber("retryAttempts"))}
	if policy.MaxAttempts > 1 {
		policy.InitialBackoff = 250 * time.Millisecond
		if ms := node.ConfigNumber("retryBackoffMs"); ms > 0 {
			policy.InitialBackoff = time.Duration(ms) * time.Millisecond
		}
		policy.MaxBackoff = defaultWebhookTimeout
	}
	for _, delay := range policy.Delays() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if result, err = x.call(ctx, node, ec); err == nil {
			return result, nil
		}
	}
	return nil, err
}

func (x *webhookExecutor) failure(node api.NodeSpec, err error) api.Outcome {
	// nonBlocking lets a flow treat an unreachable endpoint as a skipped
	// step instead of a dead session.
	if node.ConfigBool("nonBlocking") {
		return api.Continue()
	}
	return api.Failed(fmt.Errorf("webhook %s: %w", node.ID, err))
}

func (x *webhookExecutor) call(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) (any, error) {
	url := node.ConfigString("url")
	if url == "" {
		return nil, errWebhookNoURL
	}
	method := strings.ToUpper(node.ConfigString("method"))
	if method == "" {
		method = http.MethodPost
	}
	timeout := defaultWebhookTimeout
	if secs := node.ConfigNumber("timeoutSeconds"); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	body, err := json.Marshal(ec.Vars())
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint returned %s", resp.Status)
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		// Non-JSON responses are kept verbatim.
		return string(data), nil
	}
	return decoded, nil
}

// execHandoff ends the flow: the conversation is now owned by a human
// agent and the engine steps aside.
func execHandoff(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	ec.SetVar("handoff.node", node.ID)
	return api.Terminal()
}

// unknownExecutor handles kinds this engine version does not know:
// log and walk past, so flows deployed against a newer editor keep
// working around the unsupported node.
type unknownExecutor struct {
	logger *slog.Logger
}

func (x *unknownExecutor) Execute(ctx context.Context, node api.NodeSpec, ec *api.ExecContext) api.Outcome {
	x.logger.WarnContext(ctx, "unknown_node_kind",
		slog.String("node", node.ID),
		slog.String("kind", node.RawKind),
	)
	return api.Continue()
}
