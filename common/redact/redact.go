// Package redact strips credential material from strings before they are
// logged or sent back into a chat room.
//
// Upstream providers sometimes echo the offending API key inside their error
// payloads, and inbound bind commands carry the key in the message text
// itself. Redaction is best-effort string replacement; it relies on callers
// passing every value that must not leak, and it is not a substitute for
// keeping credentials out of log call-sites in the first place.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(upstreamErr.Error(), credential)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
