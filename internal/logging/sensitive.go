// Package logging provides log hygiene helpers for the SOAR engine.
//
// Playbook step inputs routinely carry credentials: webhook bearer
// tokens, ticketing API keys, notification channel secrets. Executions
// are logged and persisted, so inputs must be masked before either.
package logging

import "strings"

// SensitiveFields contains input and config field names whose values
// must never appear in logs or stored execution records.
var SensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"client_secret": true,
	"credentials":   true,
	"auth":          true,
	"authorization": true,
	"bearer":        true,
	"header_auth":   true,
	"session_id":    true,
	"cookie":        true,
	"x-api-key":     true,
	"webhook_url":   true,
	"bot_token":     true,
	"routing_key":   true,
}

// MaskedValue replaces sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField reports whether a field name is sensitive, by exact
// match or by containing a sensitive keyword.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	if SensitiveFields[lower] {
		return true
	}
	for sensitive := range SensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// MaskInputs returns a copy of an action input map with sensitive
// values masked. Nested maps and slices are walked; the original map
// is not modified. Safe to call on nil.
func MaskInputs(inputs map[string]any) map[string]any {
	if inputs == nil {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if IsSensitiveField(k) {
			out[k] = MaskedValue
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return MaskInputs(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = maskValue(e)
		}
		return out
	default:
		return v
	}
}

// MaskSecret masks a credential for log context, keeping the first four
// characters when the value is long enough to stay unguessable.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return MaskedValue
	}
	return s[:4] + "****"
}
