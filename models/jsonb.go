package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that serializes as a Go duration string ("15m", "1h30m")
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or a number of seconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if parsed < 0 {
			return fmt.Errorf("invalid duration %q: must not be negative", s)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs int64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	if secs < 0 {
		return fmt.Errorf("invalid duration %d: must not be negative", secs)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// JSONB column support. Values are encoded as text so the driver does not
// send them as bytea.

func valueJSON(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", src)
	}
}

// Value implements driver.Valuer
func (m UserMetadata) Value() (driver.Value, error) {
	return valueJSON(m)
}

// Scan implements sql.Scanner
func (m *UserMetadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// Value implements driver.Valuer
func (c ServiceConfig) Value() (driver.Value, error) {
	return valueJSON(c)
}

// Scan implements sql.Scanner
func (c *ServiceConfig) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// Value implements driver.Valuer
func (m TokenMetadata) Value() (driver.Value, error) {
	return valueJSON(m)
}

// Scan implements sql.Scanner
func (m *TokenMetadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}
