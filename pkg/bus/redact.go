package bus

import "regexp"

// Redaction patterns for history sanitisation. These are deliberately
// conservative: better to over-redact a log than leak a credential.
var (
	reAPIKey      = regexp.MustCompile(`\bsk-[A-Za-z0-9]{10,}\b`)
	rePasswordKV  = regexp.MustCompile(`(?i)\b(password|passwd|secret|token)\s*[:=]\s*\S+`)
	reEmail       = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+(@[A-Za-z0-9.-]+\.[A-Za-z]{2,})\b`)
	reIPv4        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reURLCreds    = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s:@]+:[^/\s@]+@`)
)

// redact replaces obvious secrets in text with a fixed placeholder.
// Matches §4.4's minimum set: API keys, password-like pairs, email
// local parts, IPv4 addresses, and URL credentials.
func redact(text string) string {
	text = reAPIKey.ReplaceAllString(text, "[REDACTED_KEY]")
	text = rePasswordKV.ReplaceAllString(text, "$1=[REDACTED]")
	text = reURLCreds.ReplaceAllString(text, "${1}[REDACTED]@")
	text = reEmail.ReplaceAllStringFunc(text, func(m string) string {
		loc := reEmail.FindStringSubmatchIndex(m)
		if loc == nil {
			return m
		}
		domain := m[loc[2]-loc[0] : loc[3]-loc[0]]
		return "[REDACTED]" + domain
	})
	text = reIPv4.ReplaceAllString(text, "[REDACTED_IP]")
	return text
}

// redactMessage returns a copy of msg with its Content sanitised.
// Metadata values that are strings are sanitised too; other value
// kinds are left untouched.
func redactMessage(msg AgentMessage) AgentMessage {
	out := msg
	out.Content = redact(msg.Content)
	if len(msg.Metadata) > 0 {
		meta := make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			if s, ok := v.(string); ok {
				meta[k] = redact(s)
			} else {
				meta[k] = v
			}
		}
		out.Metadata = meta
	}
	return out
}
