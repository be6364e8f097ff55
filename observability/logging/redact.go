package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// publicKeys are log keys whose values are never masked: the log envelope plus
// the harvest, grove, pool and loan identifiers operators search by.
var publicKeys = map[string]struct{}{
	"service":         {},
	"env":             {},
	"message":         {},
	"severity":        {},
	"timestamp":       {},
	"error":           {},
	"reason":          {},
	"component":       {},
	"route":           {},
	"status":          {},
	"asset":           {},
	"amount":          {},
	"distribution_id": {},
	"harvest_id":      {},
	"grove_id":        {},
	"holder":          {},
	"farmer":          {},
	"loan_id":         {},
	"borrower":        {},
	"provider":        {},
	"module":          {},
	"outcome":         {},
}

// credentialMarkers flag keys that carry secrets wherever they appear in a key.
var credentialMarkers = []string{"secret", "token", "password", "passwd", "dsn", "authorization", "api_key", "apikey"}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsPublic reports whether values logged under key are emitted verbatim.
func IsPublic(key string) bool {
	_, ok := publicKeys[normalizeKey(key)]
	return ok
}

// IsCredential reports whether key names a secret such as a webhook secret,
// admin token or database DSN.
func IsCredential(key string) bool {
	normalized := normalizeKey(key)
	if _, ok := publicKeys[normalized]; ok {
		return false
	}
	for _, marker := range credentialMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// public. Empty values pass through so unset settings stay visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsPublic(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// scrubAttr masks credential-looking attributes that reach the handler
// without going through MaskField.
func scrubAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsCredential(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
