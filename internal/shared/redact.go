package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

type redaction struct {
	re   *regexp.Regexp
	repl string
}

// redactions blank credentials in log, audit and error text. Where a rule
// captures a prefix (a key name, "Bearer "), the prefix is kept.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)((?:api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|access[_-]?token|sync[_-]?token)\s*[:=]\s*"?)[A-Za-z0-9_\-./+=]{16,}`), "${1}" + redactedPlaceholder},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-./+=]{16,}`), "${1}" + redactedPlaceholder},
	{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`), redactedPlaceholder},
	{regexp.MustCompile(`(?i)((?:token|secret)\s*[:=]\s*"?)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "${1}" + redactedPlaceholder},
}

// Redact replaces credentials in s with [REDACTED].
func Redact(s string) string {
	for _, r := range redactions {
		if s == "" {
			break
		}
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// MaskKey keeps the last four characters of a credential for display.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return "****" + key[len(key)-4:]
}
