// Package pipeline drives submitted tasks through the coding, QA, and
// fix phases in the background.
//
// A submission moves the task to the coding phase synchronously, then
// hands the rest of the run to a goroutine gated by an admission
// controller so at most a configured number of pipelines run at once.
// Every phase boundary is published as an event and mirrored into the
// task's build logs, so clients can follow a run over NATS, the
// in-process bus, or plain polling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/admission"
	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/phase"
	"github.com/fyrsmithlabs/loomd/internal/qa"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

const instrumentationName = "github.com/fyrsmithlabs/loomd/internal/pipeline"

var (
	// ErrClosed is returned when the executor has been shut down.
	ErrClosed = errors.New("pipeline executor closed")
	// ErrRunActive is returned when a task already has a pipeline in flight.
	ErrRunActive = errors.New("pipeline already running for task")
	// ErrNoActiveRun is returned by Stop when there is nothing to stop.
	ErrNoActiveRun = errors.New("no active pipeline run for task")
)

// RunRequest identifies the task a coding runner works against.
type RunRequest struct {
	TaskID       string
	Title        string
	WorktreePath string
}

// CodingRunner performs the real work of the coding phase. Lines
// written to sink land in the task's build logs and are fanned out as
// build_log_line events. A runner error does not abort the run; it is
// recorded on the stderr stream and the pipeline continues to QA.
type CodingRunner interface {
	RunCoding(ctx context.Context, req RunRequest, sink func(stream task.Stream, line string)) error
}

// Service executes task pipelines.
type Service interface {
	// Execute validates the task can enter the coding phase, moves it
	// there, and schedules the rest of the run in the background. It
	// returns once the run is queued.
	Execute(ctx context.Context, taskID string) error

	// Stop cancels the active run for the task. The run winds down at
	// its next checkpoint and leaves the task in the stopped phase.
	Stop(ctx context.Context, taskID string) error

	// QueueStatus reports the admission queue counters.
	QueueStatus() admission.Status

	// Close cancels all active runs and waits for them to drain.
	Close() error
}

// Config holds pipeline executor configuration.
type Config struct {
	// MaxFixIterations bounds the QA fix loop per run (default: 3).
	MaxFixIterations int

	// QueueLimit is the number of pipelines allowed to run
	// concurrently; submissions beyond it queue (default: 1).
	QueueLimit int
}

// DefaultServiceConfig returns the default pipeline configuration.
func DefaultServiceConfig() *Config {
	return &Config{
		MaxFixIterations: 3,
		QueueLimit:       1,
	}
}

type service struct {
	config    *Config
	store     *task.Store
	gate      qa.Gate
	publisher events.Publisher
	runner    CodingRunner
	admission *admission.Controller
	logger    *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	runCounter  metric.Int64Counter
	fixCounter  metric.Int64Counter
	runDuration metric.Float64Histogram

	mu     sync.Mutex
	runs   map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a pipeline executor. The runner may be nil, in
// which case the coding phase only records its start and completion.
func NewService(cfg *Config, store *task.Store, gate qa.Gate, publisher events.Publisher, runner CodingRunner, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if gate == nil {
		return nil, errors.New("qa gate is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFixIterations < 0 {
		cfg.MaxFixIterations = 0
	}

	s := &service{
		config:    cfg,
		store:     store,
		gate:      gate,
		publisher: publisher,
		runner:    runner,
		admission: admission.New(&admission.Config{MaxConcurrent: cfg.QueueLimit}, logger),
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		runs:      make(map[string]context.CancelFunc),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.runCounter, err = s.meter.Int64Counter("loomd.pipeline.runs_total",
		metric.WithDescription("Total pipeline runs by outcome"))
	if err != nil {
		s.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	s.fixCounter, err = s.meter.Int64Counter("loomd.pipeline.fix_iterations_total",
		metric.WithDescription("Total QA fix iterations across all runs"))
	if err != nil {
		s.logger.Warn("failed to create fix iterations counter", zap.Error(err))
	}

	s.runDuration, err = s.meter.Float64Histogram("loomd.pipeline.run_duration_seconds",
		metric.WithDescription("Wall-clock duration of pipeline runs"),
		metric.WithUnit("s"))
	if err != nil {
		s.logger.Warn("failed to create run duration histogram", zap.Error(err))
	}
}

func (s *service) Execute(ctx context.Context, taskID string) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.execute")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", taskID))

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		span.SetStatus(codes.Error, ErrClosed.Error())
		return ErrClosed
	}
	if _, active := s.runs[taskID]; active {
		s.mu.Unlock()
		cancel()
		span.SetStatus(codes.Error, ErrRunActive.Error())
		return ErrRunActive
	}
	s.runs[taskID] = cancel
	s.mu.Unlock()

	var snapshot *task.Task
	err := s.store.Update(ctx, taskID, func(t *task.Task) error {
		if err := t.SetPhase(phase.Coding); err != nil {
			return err
		}
		now := time.Now().UTC()
		t.StartedAt = &now
		t.Error = ""
		t.AppendLog(task.LogPhaseStart, "Pipeline submitted", "")
		snapshot = t.Clone()
		return nil
	})
	if err != nil {
		s.unregister(taskID)
		cancel()
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	ticket := s.admission.Enqueue()
	s.emitMessage(ctx, snapshot, "pipeline_queued",
		fmt.Sprintf("Task '%s' queued (position=%d, limit=%d)", snapshot.Title, ticket.Position(), s.admission.Limit()))

	s.logger.Info("pipeline queued",
		zap.String("task_id", snapshot.ID),
		zap.String("bead_id", snapshot.BeadID),
		zap.Int("queue_position", ticket.Position()),
	)

	s.wg.Add(1)
	go s.runQueued(runCtx, cancel, ticket, snapshot)

	return nil
}

func (s *service) Stop(ctx context.Context, taskID string) error {
	_, span := s.tracer.Start(ctx, "pipeline.stop")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", taskID))

	s.mu.Lock()
	cancel, ok := s.runs[taskID]
	s.mu.Unlock()
	if !ok {
		span.SetStatus(codes.Error, ErrNoActiveRun.Error())
		return ErrNoActiveRun
	}

	cancel()
	s.logger.Info("pipeline stop requested", zap.String("task_id", taskID))
	return nil
}

func (s *service) QueueStatus() admission.Status {
	return s.admission.Status()
}

func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := make([]context.CancelFunc, 0, len(s.runs))
	for _, cancel := range s.runs {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.admission.Close()
	s.wg.Wait()

	s.logger.Info("pipeline executor closed")
	return nil
}

func (s *service) unregister(taskID string) {
	s.mu.Lock()
	delete(s.runs, taskID)
	s.mu.Unlock()
}
