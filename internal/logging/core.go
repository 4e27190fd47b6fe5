package logging

import (
	"errors"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// otelScopeName identifies loomd entries in the OTLP log stream.
const otelScopeName = "github.com/fyrsmithlabs/loomd"

// buildCore assembles the sink tree: stderr and/or OTEL, wrapped in the
// sampler when enabled.
func buildCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stderr {
		enc, err := newRedactEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), cfg.Level))
	}

	if cfg.Output.OTEL && provider != nil {
		cores = append(cores, otelzap.NewCore(otelScopeName,
			otelzap.WithLoggerProvider(provider),
		))
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		return nil, errors.New("no log output available")
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}

	return sampledCore(core, cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

// sampledCore splits the stream at Error: everything below runs through
// a message-keyed sampler, Error and above bypass it entirely.
func sampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	below := &bandCore{Core: core, min: zapcore.DebugLevel, max: zapcore.WarnLevel}
	atLeastError := &bandCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	return zapcore.NewTee(
		zapcore.NewSamplerWithOptions(below, cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter),
		atLeastError,
	)
}

// bandCore admits entries whose level falls inside an inclusive range.
type bandCore struct {
	zapcore.Core
	min zapcore.Level
	max zapcore.Level
}

func (b *bandCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= b.min && lvl <= b.max && b.Core.Enabled(lvl)
}

func (b *bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(e.Level) {
		return ce
	}
	return b.Core.Check(e, ce)
}

func (b *bandCore) With(fields []zapcore.Field) zapcore.Core {
	return &bandCore{Core: b.Core.With(fields), min: b.min, max: b.max}
}
