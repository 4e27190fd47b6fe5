package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/loomd/internal/config"
)

// maxPatternLen bounds redaction regexes so a config typo cannot smuggle
// in a pathological pattern.
const maxPatternLen = 256

// Config controls logger construction.
type Config struct {
	Level           zapcore.Level     `koanf:"level"`
	Format          string            `koanf:"format"`
	Output          OutputConfig      `koanf:"output"`
	Sampling        SamplingConfig    `koanf:"sampling"`
	Caller          bool              `koanf:"caller"`
	CallerSkip      int               `koanf:"caller_skip"`
	StacktraceLevel zapcore.Level     `koanf:"stacktrace_level"`
	Fields          map[string]string `koanf:"fields"`
	Redaction       RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects the sinks entries are written to. Both may be
// enabled at once.
type OutputConfig struct {
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig bounds log volume for levels below Error. Per tick,
// the first Initial entries with a given message pass, then every
// Thereafter-th. Error and above always pass.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// RedactionConfig drives encoder-level masking. Keys are matched
// case-insensitively against field names; Patterns are regexes matched
// against string field values.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Keys     []string `koanf:"keys"`
	Patterns []string `koanf:"patterns"`
}

// DefaultConfig returns the production defaults: sampled JSON on
// stderr with masking enabled.
func DefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{
			Stderr: true,
		},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller:          true,
		CallerSkip:      2,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields: map[string]string{
			"service": "loomd",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Keys: []string{
				"password", "secret", "token", "api_key",
				"authorization", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// Validate reports the first problem that would make New fail or
// produce a logger with surprising behavior.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format %q not supported, want json or console", c.Format)
	}
	if !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("stderr and otel outputs both disabled")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return fmt.Errorf("sampling tick %v must be positive", c.Sampling.Tick.Duration())
		}
		if c.Sampling.Initial < 0 || c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling counts must not be negative")
		}
	}
	if c.Caller && c.CallerSkip < 0 {
		return fmt.Errorf("caller skip %d must not be negative", c.CallerSkip)
	}
	for _, p := range c.Redaction.Patterns {
		if len(p) > maxPatternLen {
			return fmt.Errorf("redaction pattern exceeds %d chars", maxPatternLen)
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("redaction pattern %q: %w", p, err)
		}
	}
	for k := range c.Fields {
		if k == "" {
			return fmt.Errorf("static field with empty key")
		}
	}
	return nil
}
