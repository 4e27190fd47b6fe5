package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// redacted replaces secret values anywhere they would be rendered.
const redacted = "[REDACTED]"

// Duration is a time.Duration that unmarshals from strings like "30s"
// or "1h30m". Negative values are rejected at parse time so downstream
// code never sees them.
type Duration time.Duration

// Duration converts back to the standard library type.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration in time.Duration.String form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON renders the duration as a JSON string, not nanoseconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Secret holds a credential-bearing string, such as a NATS URL with a
// password in it. Every formatting and marshaling path renders the
// redaction placeholder instead; only Value returns the wrapped
// string.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string { return s.mask() }

// GoString implements fmt.GoStringer so %#v does not leak either.
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

// Value returns the wrapped string. Call it only at the point of use.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a value is present.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalText writes the redaction placeholder, never the value.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

// MarshalJSON writes the redaction placeholder, never the value.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

// UnmarshalText accepts the raw value. Decoding is the one direction
// that must not mask.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// UnmarshalJSON accepts the raw value from a JSON string.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}
