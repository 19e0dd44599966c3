package audit

import (
	"encoding/json"
	"strings"
)

// Redacted replaces the value of a credential-bearing field
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
}

// IsSensitiveKey reports whether a field name carries a credential
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of a decoded JSON value with every credential-bearing
// field replaced, at any depth. Credentials embedded in other strings are scrubbed.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = Redact(child)
		}
		return out
	case string:
		return ScrubString(val)
	default:
		return v
	}
}

// RedactJSON decodes body and redacts it. Bodies that are not JSON are dropped.
func RedactJSON(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return Redact(v)
}

// RedactValue round-trips v through JSON so struct fields are redacted by their JSON names
func RedactValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return RedactJSON(data)
}
