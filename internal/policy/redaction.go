package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Rules run in order. Cards and IBANs go before phones so long digit runs
// keep their more specific label. Access secrets keep the leading phrase
// so a memory still reads "door code [REDACTED_SECRET]".
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`), "[REDACTED_IBAN]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`(?i)\b((?:wi-?fi|door|gate|alarm|lockbox|key ?box)\s+(?:password|passcode|code|pin)(?:\s+is)?[:\s]+)\S+`), "${1}[REDACTED_SECRET]"},
}

const logPreviewRunes = 80

// RedactPII masks contact details, payment numbers and property access
// secrets before text is stored as a memory or logged.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogPreview returns a redacted, length-capped rendition of chat text for log lines.
func LogPreview(text string) string {
	out, _ := RedactPII(text)
	r := []rune(out)
	if len(r) <= logPreviewRunes {
		return out
	}
	return string(r[:logPreviewRunes]) + "..."
}
