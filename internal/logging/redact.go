package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/loomd/internal/config"
)

const redactedPlaceholder = "[REDACTED]"

// Secret builds a field for a config.Secret. The secret's Stringer
// already masks the value, so the raw bytes never reach the encoder.
func Secret(key string, v config.Secret) zap.Field {
	return zap.Stringer(key, v)
}

// RedactedString builds a string field whose value is masked outright.
// Use it for values that are sensitive but not held as config.Secret,
// such as inbound Authorization headers.
func RedactedString(key, _ string) zap.Field {
	return zap.String(key, redactedPlaceholder)
}

// redactEncoder masks configured field keys and value patterns before
// delegating to the wrapped encoder.
type redactEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactEncoder(base zapcore.Encoder, cfg RedactionConfig) (*redactEncoder, error) {
	enc := &redactEncoder{Encoder: base}
	if !cfg.Enabled {
		return enc, nil
	}

	enc.keys = make(map[string]struct{}, len(cfg.Keys))
	for _, k := range cfg.Keys {
		enc.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern exceeds %d chars", maxPatternLen)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		enc.patterns = append(enc.patterns, re)
	}
	return enc, nil
}

func (e *redactEncoder) masked(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *redactEncoder) AddString(key, val string) {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedPlaceholder)
		return
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			e.Encoder.AddString(key, redactedPlaceholder)
			return
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *redactEncoder) AddByteString(key string, val []byte) {
	if e.masked(key) {
		e.Encoder.AddByteString(key, []byte(redactedPlaceholder))
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactEncoder) AddBinary(key string, val []byte) {
	if e.masked(key) {
		e.Encoder.AddBinary(key, []byte(redactedPlaceholder))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected masks the whole value when the key matches. Structured
// values needing field-level masking should use explicit marshalers.
func (e *redactEncoder) AddReflected(key string, val interface{}) error {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedPlaceholder)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedPlaceholder)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedPlaceholder)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactEncoder) Clone() zapcore.Encoder {
	return &redactEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}

// EncodeEntry routes call-site fields through the masking methods. The
// wrapped encoder applies those fields inside its own EncodeEntry,
// which would bypass masking entirely.
func (e *redactEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clone := e.Clone().(*redactEncoder)
	for i := range fields {
		fields[i].AddTo(clone)
	}
	return clone.Encoder.EncodeEntry(ent, nil)
}
