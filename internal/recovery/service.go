// Package recovery tracks what was tried when a pipeline phase failed
// and suggests the next action. Unlike the pipeline's in-run fix loop,
// this is the cross-run escalation path: every failed attempt against
// the same session and phase moves the suggestion one step up the
// ladder, ending with a human.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/phase"
)

const instrumentationName = "github.com/fyrsmithlabs/loomd/internal/recovery"

// ErrClosed is returned by operations after Close.
var ErrClosed = errors.New("recovery service closed")

// Service provides recovery tracking and escalation advice.
type Service interface {
	// Record registers a new recovery attempt. It starts unsuccessful.
	Record(ctx context.Context, req *RecordRequest) (*Record, error)

	// MarkSuccessful flips a record to successful. The bool reports
	// whether the record existed.
	MarkSuccessful(ctx context.Context, recordID string) (bool, error)

	// ForSession returns the session's records in insertion order.
	ForSession(ctx context.Context, sessionID string) ([]*Record, error)

	// Suggest returns the next action for a session's phase, based on
	// how many attempts against it have failed so far.
	Suggest(ctx context.Context, sessionID string, p string) (Action, error)

	// Close stops the advisor. Later operations return ErrClosed.
	Close() error
}

// RecordRequest carries the fields for a new record.
type RecordRequest struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Action    Action `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

// Config configures the recovery service.
type Config struct {
	// MaxRecordsPerSession bounds each session's history; the oldest
	// records are dropped past it (default: 1000).
	MaxRecordsPerSession int
}

// DefaultServiceConfig returns the default advisor configuration.
func DefaultServiceConfig() *Config {
	return &Config{
		MaxRecordsPerSession: 1000,
	}
}

// service keeps session histories in memory behind an RWMutex.
type service struct {
	config *Config
	logger *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	recordCounter  metric.Int64Counter
	suggestCounter metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string][]*Record
	byID     map[string]*Record
	closed   bool
}

// NewService creates a new recovery service.
func NewService(cfg *Config, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		sessions: make(map[string][]*Record),
		byID:     make(map[string]*Record),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.recordCounter, err = s.meter.Int64Counter(
		"loomd.recovery.records_total",
		metric.WithDescription("Total number of recovery attempts recorded"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create records counter", zap.Error(err))
	}

	s.suggestCounter, err = s.meter.Int64Counter(
		"loomd.recovery.suggestions_total",
		metric.WithDescription("Total number of recovery suggestions served"),
		metric.WithUnit("{suggestion}"),
	)
	if err != nil {
		s.logger.Warn("failed to create suggestion counter", zap.Error(err))
	}
}

// Record registers a new recovery attempt.
func (s *service) Record(ctx context.Context, req *RecordRequest) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "recovery.record")
	defer span.End()

	if req == nil {
		return nil, errors.New("request is required")
	}
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("phase", req.Phase),
		attribute.String("action", string(req.Action)),
	)

	if req.SessionID == "" {
		err := errors.New("session_id must not be empty")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p, err := phase.Parse(req.Phase)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !req.Action.Valid() {
		err := fmt.Errorf("unknown action: %s", req.Action)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	record := &Record{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Phase:     p,
		Action:    req.Action,
		Reason:    req.Reason,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	records := append(s.sessions[req.SessionID], record)
	if max := s.config.MaxRecordsPerSession; max > 0 && len(records) > max {
		for _, old := range records[:len(records)-max] {
			delete(s.byID, old.ID)
		}
		records = append([]*Record{}, records[len(records)-max:]...)
	}
	s.sessions[req.SessionID] = records
	s.byID[record.ID] = record
	s.mu.Unlock()

	if s.recordCounter != nil {
		s.recordCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(req.Action)),
		))
	}

	s.logger.Debug("recovery attempt recorded",
		zap.String("record_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("phase", string(record.Phase)),
		zap.String("action", string(record.Action)),
	)

	out := *record
	return &out, nil
}

// MarkSuccessful flips a record to successful.
func (s *service) MarkSuccessful(ctx context.Context, recordID string) (bool, error) {
	_, span := s.tracer.Start(ctx, "recovery.mark_successful")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", recordID))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	record, ok := s.byID[recordID]
	if !ok {
		span.SetAttributes(attribute.Bool("found", false))
		return false, nil
	}
	record.Successful = true
	return true, nil
}

// ForSession returns the session's records in insertion order.
func (s *service) ForSession(ctx context.Context, sessionID string) ([]*Record, error) {
	_, span := s.tracer.Start(ctx, "recovery.for_session")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	records := s.sessions[sessionID]
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		copied := *r
		out = append(out, &copied)
	}
	span.SetAttributes(attribute.Int("record_count", len(out)))
	return out, nil
}

// Suggest walks the escalation ladder: the first failure for a
// session's phase earns a retry, the second a rollback, the third a
// skip, and anything past that goes to a human. Successful records do
// not count against the session.
func (s *service) Suggest(ctx context.Context, sessionID string, p string) (Action, error) {
	ctx, span := s.tracer.Start(ctx, "recovery.suggest")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("phase", p),
	)

	target, err := phase.Parse(p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", ErrClosed
	}
	failed := 0
	for _, r := range s.sessions[sessionID] {
		if r.Phase == target && !r.Successful {
			failed++
		}
	}
	s.mu.RUnlock()

	var action Action
	switch failed {
	case 0:
		action = ActionRetry
	case 1:
		action = ActionRollback
	case 2:
		action = ActionSkip
	default:
		action = ActionEscalate
	}

	if s.suggestCounter != nil {
		s.suggestCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(action)),
		))
	}
	span.SetAttributes(
		attribute.Int("failed_attempts", failed),
		attribute.String("action", string(action)),
	)
	return action, nil
}

// Close stops the advisor; later operations return ErrClosed.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("recovery service closed")
	return nil
}
