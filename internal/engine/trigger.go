package engine

import (
	"regexp"
	"strings"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// Trigger node config keys.
const (
	cfgTriggerCondition  = "condition"
	cfgTriggerValue      = "value"
	cfgTriggerKeywords   = "keywords"
	cfgTriggerChannels   = "channels"
	cfgSessionPersistent = "sessionPersistent"
	cfgTimeoutAmount     = "timeoutAmount"
	cfgTimeoutUnit       = "timeoutUnit"
)

// Trigger condition names.
const (
	TriggerAny              = "any"
	TriggerContains         = "contains"
	TriggerExact            = "exact"
	TriggerRegex            = "regex"
	TriggerMultipleKeywords = "multiple_keywords"
	TriggerMedia            = "media"
	TriggerEmailSubject     = "email_subject_contains"
)

// triggerMatches decides whether a trigger node applies to a fresh inbound
// message. It returns the keyword that matched for the conditions that
// report one, so the engine can bind it into the new session's variables.
func triggerMatches(node api.NodeSpec, msg api.InboundMessage) (matchedKeyword string, ok bool) {
	if channels := node.ConfigStrings(cfgTriggerChannels); len(channels) > 0 {
		supported := false
		for _, ch := range channels {
			if strings.EqualFold(ch, msg.Channel) {
				supported = true
				break
			}
		}
		if !supported {
			return "", false
		}
	}

	value := node.ConfigString(cfgTriggerValue)
	if value == "" {
		value = node.ConfigString(cfgTriggerKeywords)
	}
	text := strings.TrimSpace(msg.Text)

	switch strings.ToLower(node.ConfigString(cfgTriggerCondition)) {
	case "", TriggerAny:
		return "", true

	case TriggerContains:
		kw := matchKeyword(text, value)
		return kw, kw != ""

	case TriggerExact:
		return "", strings.EqualFold(text, strings.TrimSpace(value))

	case TriggerRegex:
		re, err := regexp.Compile(value)
		if err != nil {
			// A broken pattern never matches; the flow author sees the
			// trigger as inert rather than the engine as broken.
			return "", false
		}
		return "", re.MatchString(msg.Text)

	case TriggerMultipleKeywords:
		kw := matchKeyword(text, value)
		return kw, kw != ""

	case TriggerMedia:
		return "", msg.HasMedia()

	case TriggerEmailSubject:
		return "", value != "" && strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(value))

	default:
		return "", false
	}
}

// matchKeyword returns the first keyword of a comma-separated list found
// in text (case-insensitive substring), or "".
func matchKeyword(text, keywords string) string {
	lower := strings.ToLower(text)
	for _, kw := range strings.Split(keywords, ",") {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}

// sessionPersistent reports whether the trigger keeps its session parked
// at the trigger node when a traversal runs off the end of the graph.
func sessionPersistent(trigger api.NodeSpec) bool {
	return trigger.ConfigBool(cfgSessionPersistent)
}

// triggerTimeout returns the inactivity window configured on the trigger,
// or 0 when the session should never auto-expire.
func triggerTimeout(trigger api.NodeSpec) time.Duration {
	amount := trigger.ConfigNumber(cfgTimeoutAmount)
	if amount <= 0 {
		return 0
	}
	var unit time.Duration
	switch strings.ToLower(trigger.ConfigString(cfgTimeoutUnit)) {
	case "seconds", "second":
		unit = time.Second
	case "", "minutes", "minute":
		unit = time.Minute
	case "hours", "hour":
		unit = time.Hour
	case "days", "day":
		unit = 24 * time.Hour
	default:
		unit = time.Minute
	}
	return time.Duration(amount * float64(unit))
}
