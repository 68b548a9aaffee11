package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys the lending daemon logs verbatim. Everything else passed through
// MaskField is masked.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"component": {},
	"action":    {},
	"method":    {},
	"path":      {},
	"status":    {},
	"requestid": {},
	"caller":    {},
	"market":    {},
	"asset":     {},
	"auction":   {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskBearer keeps the scheme of an Authorization header and drops the
// credential.
func MaskBearer(header string) string {
	scheme, _, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		if header == "" {
			return ""
		}
		return RedactedValue
	}
	return scheme + " " + RedactedValue
}
