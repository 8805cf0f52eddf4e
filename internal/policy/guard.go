package policy

import (
	"regexp"
	"strings"
)

// AutoReplyDecision says whether a guest turn may be answered without the host.
type AutoReplyDecision struct {
	Allowed bool
	Reason  string
}

var (
	// Requests for credentials or payment data go to the host in person.
	secretRequestPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(give|send|tell|share|show|reveal|what(?:'s| is))\b.*\b(password|passcode|pin|api[_ -]?key|token|secret|card number|cvv|iban|bank account)\b`),
		regexp.MustCompile(`(?i)\b(ignore|forget|disregard)\b.*\b(previous|prior|above|your)\b.*\b(instructions?|rules?|prompt)\b`),
	}
	handoffKeywords = []string{
		"speak to the host", "talk to the host", "real person", "human please",
		"emergency", "call the police", "ambulance",
	}
)

// ScreenAutoReply decides whether the autonomous responder may answer text.
// text is expected in the host's language.
func ScreenAutoReply(text string) AutoReplyDecision {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return AutoReplyDecision{Allowed: true}
	}
	for _, re := range secretRequestPatterns {
		if re.MatchString(in) {
			return AutoReplyDecision{Reason: "sensitive request needs the host"}
		}
	}
	for _, kw := range handoffKeywords {
		if strings.Contains(in, kw) {
			return AutoReplyDecision{Reason: "guest asked for the host"}
		}
	}
	return AutoReplyDecision{Allowed: true}
}
