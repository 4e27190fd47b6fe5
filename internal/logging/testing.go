package logging

import (
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry for assertions. The observer sits in
// place of the real core, so encoder-level masking is not applied here;
// AssertNoSecrets re-checks entries against the default redaction rules
// instead.
type TestLogger struct {
	*Logger
	Recorded *observer.ObservedLogs
}

// NewTestLogger returns a logger capturing all entries at debug and
// above.
func NewTestLogger() *TestLogger {
	core, recorded := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger:   &Logger{zl: zap.New(core), cfg: DefaultConfig()},
		Recorded: recorded,
	}
}

// AssertLogged fails unless an entry at lvl containing substr was
// recorded.
func (tl *TestLogger) AssertLogged(tb testing.TB, lvl zapcore.Level, substr string) {
	tb.Helper()
	for _, entry := range tl.Recorded.All() {
		if entry.Level == lvl && strings.Contains(entry.Message, substr) {
			return
		}
	}
	tb.Errorf("no %v entry containing %q", lvl, substr)
}

// AssertNoSecrets fails when any recorded entry leaks a value the
// default redaction rules would have masked.
func (tl *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()

	rules := DefaultConfig().Redaction
	patterns := make([]*regexp.Regexp, 0, len(rules.Patterns))
	for _, p := range rules.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}

	for _, entry := range tl.Recorded.All() {
		for _, re := range patterns {
			if re.MatchString(entry.Message) {
				tb.Errorf("secret pattern in message %q", entry.Message)
			}
		}
		for _, field := range entry.Context {
			if field.Type != zapcore.StringType {
				continue
			}
			lowerKey := strings.ToLower(field.Key)
			for _, k := range rules.Keys {
				if strings.Contains(lowerKey, k) && field.String != "" &&
					!strings.Contains(field.String, redactedPlaceholder) {
					tb.Errorf("field %q carries unmasked value %q", field.Key, field.String)
				}
			}
			for _, re := range patterns {
				if re.MatchString(field.String) {
					tb.Errorf("secret pattern in field %q: %q", field.Key, field.String)
				}
			}
		}
	}
}
