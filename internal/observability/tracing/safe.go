package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var allowedSpanKeys = map[string]struct{}{
	"request_id":                {},
	"http.method":               {},
	"http.route":                {},
	"http.status_code":          {},
	"http.server_duration_ms":   {},
	"ref.code":                  {},
	"ad.placement":              {},
	"webhook.event_type":        {},
	"attribution.attach_result": {},
}

// SafeAttributes drops span attributes not on the allowlist. Query strings,
// cookie values, and raw payloads must never reach the span.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[string(attr.Key)]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// SafeError strips anything past the first line of an error message.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	const maxLen = 256
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return errors.New(msg)
}
