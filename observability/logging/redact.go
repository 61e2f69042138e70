package logging

import (
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

// Keys that carry identifiers safe to log verbatim. Owner addresses and
// operator identities are deliberately absent.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"cdp_id":     {},
	"collateral": {},
	"operation":  {},
	"status":     {},
	"kind":       {},
	"risk_level": {},
	"request_id": {},
	"route":      {},
	"attempt":    {},
}

// IsAllowlisted reports whether key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue redacts non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Pseudonymize logs a short keyed fingerprint of value under key+"_fp" so a
// single owner's activity can be followed across lines without exposing the
// address. Allowlisted keys are logged verbatim.
func Pseudonymize(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	if strings.TrimSpace(value) == "" {
		return slog.String(key+"_fp", "")
	}
	sum := blake3.Sum256([]byte("log-fingerprint\x00" + value))
	return slog.String(key+"_fp", hex.EncodeToString(sum[:6]))
}
