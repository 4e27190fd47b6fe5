package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/admission"
	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/phase"
	"github.com/fyrsmithlabs/loomd/internal/qa"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

// runQueued waits for an admission permit and then drives the full
// pipeline. It owns the run's registration: the task can be submitted
// again only after this returns.
func (s *service) runQueued(ctx context.Context, cancel context.CancelFunc, ticket *admission.Ticket, snapshot *task.Task) {
	defer s.wg.Done()
	defer s.unregister(snapshot.ID)
	defer cancel()

	permit, err := ticket.Wait(ctx)
	if err != nil {
		outcome := s.failQueued(ctx, snapshot, err)
		s.recordOutcome(ctx, outcome)
		return
	}
	defer permit.Release()

	status := s.admission.Status()
	s.emitMessage(ctx, snapshot, "pipeline_started",
		fmt.Sprintf("Task '%s' started (running=%d, limit=%d)", snapshot.Title, status.Running, status.Limit))

	start := time.Now()
	outcome := s.run(ctx, snapshot)
	if s.runDuration != nil {
		s.runDuration.Record(ctx, time.Since(start).Seconds())
	}
	s.recordOutcome(ctx, outcome)
}

// run executes the coding, QA, and fix phases and resolves the task.
// It returns the run outcome for metrics.
func (s *service) run(ctx context.Context, snapshot *task.Task) string {
	ctx, span := s.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_id", snapshot.ID),
		attribute.String("bead_id", snapshot.BeadID),
	)

	s.emit(ctx, snapshot, "pipeline_start")

	// Coding phase. The task was moved to coding at submission time.
	s.emit(ctx, snapshot, "coding_phase_start")
	s.buildLog(ctx, snapshot, task.StreamStdout, phase.Coding, "Coding phase started")

	if s.runner != nil {
		s.buildLog(ctx, snapshot, task.StreamStdout, phase.Coding, "Coding runner available; delegating coding phase")
		sink := func(stream task.Stream, line string) {
			s.buildLog(ctx, snapshot, stream, phase.Coding, line)
		}
		req := RunRequest{TaskID: snapshot.ID, Title: snapshot.Title, WorktreePath: snapshot.WorktreePath}
		if err := s.runner.RunCoding(ctx, req, sink); err != nil {
			s.buildLog(ctx, snapshot, task.StreamStderr, phase.Coding, fmt.Sprintf("Coding runner failed: %v", err))
		}
	}
	if s.checkpoint(ctx, snapshot) {
		return "stopped"
	}

	s.buildLog(ctx, snapshot, task.StreamStdout, phase.Coding, "Coding phase complete")
	s.emit(ctx, snapshot, "coding_phase_complete")

	// QA phase.
	if err := s.setPhase(ctx, snapshot.ID, phase.Qa); err != nil {
		return s.abort(ctx, snapshot, err)
	}
	s.emit(ctx, snapshot, "qa_phase_start")
	s.buildLog(ctx, snapshot, task.StreamStdout, phase.Qa, "QA phase started")

	if s.checkpoint(ctx, snapshot) {
		return "stopped"
	}

	var gateErr error
	report, err := s.gate.Run(ctx, s.checkRequest(snapshot))
	if err != nil {
		if ctx.Err() != nil {
			s.stopTask(ctx, snapshot)
			return "stopped"
		}
		s.buildLog(ctx, snapshot, task.StreamStderr, phase.Qa, fmt.Sprintf("QA gate error: %v", err))
		report = task.NewQaReport(snapshot.ID, task.StatusFailed, nil)
		gateErr = err
	} else {
		s.buildLog(ctx, snapshot, streamFor(report), phase.Qa,
			fmt.Sprintf("QA result: %s (%d issues)", report.Status, len(report.Issues)))
		s.emit(ctx, snapshot, "qa_phase_complete")
	}

	// Fix loop. Only a failed report triggers fix iterations; a
	// pending one resolves directly below.
	iterations := 0
	for gateErr == nil && report.Status == task.StatusFailed && iterations < s.config.MaxFixIterations {
		if s.checkpoint(ctx, snapshot) {
			return "stopped"
		}
		iterations++
		if s.fixCounter != nil {
			s.fixCounter.Add(ctx, 1)
		}
		s.emit(ctx, snapshot, fmt.Sprintf("qa_fix_iteration_%d", iterations))
		s.buildLog(ctx, snapshot, task.StreamStderr, phase.Fixing,
			fmt.Sprintf("Fix iteration %d of %d", iterations, s.config.MaxFixIterations))

		if err := s.setPhase(ctx, snapshot.ID, phase.Fixing); err != nil {
			return s.abort(ctx, snapshot, err)
		}
		if err := s.setPhase(ctx, snapshot.ID, phase.Qa); err != nil {
			return s.abort(ctx, snapshot, err)
		}

		next, err := s.gate.Run(ctx, s.checkRequest(snapshot))
		if err != nil {
			if ctx.Err() != nil {
				s.stopTask(ctx, snapshot)
				return "stopped"
			}
			s.buildLog(ctx, snapshot, task.StreamStderr, phase.Qa, fmt.Sprintf("QA gate error: %v", err))
			gateErr = err
			break
		}
		report = next
		s.buildLog(ctx, snapshot, streamFor(report), phase.Qa,
			fmt.Sprintf("QA re-check result: %s (%d issues)", report.Status, len(report.Issues)))
	}

	return s.resolve(ctx, snapshot, report, iterations, gateErr)
}

// resolve stores the final QA report, moves the task to the report's
// next phase, and publishes the completion event.
func (s *service) resolve(ctx context.Context, snapshot *task.Task, report *task.QaReport, iterations int, gateErr error) string {
	passed := gateErr == nil && report.Status == task.StatusPassed

	var failureText string
	if !passed {
		switch {
		case gateErr != nil:
			failureText = fmt.Sprintf("qa gate: %v", gateErr)
		case report.Status == task.StatusFailed:
			failureText = fmt.Sprintf("QA failed after %d fix iterations", iterations)
		default:
			failureText = "QA finished with status pending"
		}
	}

	err := s.store.Update(ctx, snapshot.ID, func(t *task.Task) error {
		t.QaReport = report.Clone()
		if next := report.NextPhase(); t.Phase != next {
			if err := t.SetPhase(next); err != nil {
				return err
			}
		}
		if passed {
			now := time.Now().UTC()
			t.CompletedAt = &now
		} else {
			t.Error = failureText
		}
		return nil
	})
	if err != nil {
		return s.abort(ctx, snapshot, err)
	}

	if passed {
		s.buildLog(ctx, snapshot, task.StreamStdout, phase.Complete, "Pipeline completed successfully")
		s.emit(ctx, snapshot, "pipeline_complete")
		s.logger.Info("pipeline run complete",
			zap.String("task_id", snapshot.ID),
			zap.Int("fix_iterations", iterations))
		return "complete"
	}

	s.buildLog(ctx, snapshot, task.StreamStderr, phase.Error, "Pipeline completed with failures")
	s.emit(ctx, snapshot, "pipeline_complete_with_failures")
	s.logger.Warn("pipeline run completed with failures",
		zap.String("task_id", snapshot.ID),
		zap.String("qa_status", string(report.Status)),
		zap.Int("fix_iterations", iterations),
		zap.String("reason", failureText))
	return "complete_with_failures"
}

// failQueued disposes of a run whose admission wait failed. A
// canceled wait is an operator stop, not an error.
func (s *service) failQueued(ctx context.Context, snapshot *task.Task, cause error) string {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		s.stopTask(ctx, snapshot)
		return "stopped"
	}

	s.emitMessage(ctx, snapshot, "pipeline_queue_error",
		fmt.Sprintf("Task '%s' failed to acquire pipeline queue permit", snapshot.Title))

	err := s.store.Update(ctx, snapshot.ID, func(t *task.Task) error {
		if err := t.SetPhase(phase.Error); err != nil {
			return err
		}
		t.Error = "failed to acquire pipeline queue permit"
		return nil
	})
	if err != nil {
		s.logger.Error("failed to mark task errored",
			zap.String("task_id", snapshot.ID),
			zap.Error(err))
	}
	s.logger.Warn("pipeline admission failed",
		zap.String("task_id", snapshot.ID),
		zap.Error(cause))
	return "queue_error"
}

// abort force-fails a run that hit an internal error, such as the
// store rejecting a transition mid-run.
func (s *service) abort(ctx context.Context, snapshot *task.Task, cause error) string {
	s.logger.Error("pipeline run aborted",
		zap.String("task_id", snapshot.ID),
		zap.Error(cause))
	s.buildLog(ctx, snapshot, task.StreamStderr, phase.Error, fmt.Sprintf("Pipeline aborted: %v", cause))

	err := s.store.Update(ctx, snapshot.ID, func(t *task.Task) error {
		if err := t.SetPhase(phase.Error); err != nil {
			return err
		}
		t.Error = cause.Error()
		return nil
	})
	if err != nil {
		s.logger.Error("failed to mark task errored",
			zap.String("task_id", snapshot.ID),
			zap.Error(err))
	}
	s.emit(ctx, snapshot, "pipeline_complete_with_failures")
	return "aborted"
}

// checkpoint winds the run down if it has been canceled. It returns
// true when the run must not continue.
func (s *service) checkpoint(ctx context.Context, snapshot *task.Task) bool {
	if ctx.Err() == nil {
		return false
	}
	s.stopTask(ctx, snapshot)
	return true
}

// stopTask records the stop in the build logs and parks the task in
// the stopped phase.
func (s *service) stopTask(ctx context.Context, snapshot *task.Task) {
	s.buildLog(ctx, snapshot, task.StreamStderr, phase.Stopped, "Pipeline stopped")
	if err := s.setPhase(ctx, snapshot.ID, phase.Stopped); err != nil {
		s.logger.Error("failed to mark task stopped",
			zap.String("task_id", snapshot.ID),
			zap.Error(err))
	}
	s.logger.Info("pipeline run stopped", zap.String("task_id", snapshot.ID))
}

// setPhase moves the task, treating a transition to the phase it is
// already in as a no-op. A QA report's next phase equals the current
// phase when QA resolves as pending.
func (s *service) setPhase(ctx context.Context, taskID string, to phase.Phase) error {
	return s.store.Update(ctx, taskID, func(t *task.Task) error {
		if t.Phase == to {
			return nil
		}
		return t.SetPhase(to)
	})
}

// emit publishes a phase event with the standard task message.
func (s *service) emit(ctx context.Context, snapshot *task.Task, eventType string) {
	s.emitMessage(ctx, snapshot, eventType, fmt.Sprintf("Task '%s': %s", snapshot.Title, eventType))
}

func (s *service) emitMessage(ctx context.Context, snapshot *task.Task, eventType, message string) {
	event := events.New(eventType, message).WithBead(snapshot.BeadID)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("task_id", snapshot.ID),
			zap.Error(err))
	}
}

// buildLog appends one line to the task's build logs and fans the
// stored line out as a build_log_line event. The event carries the
// post-scrub text, never the raw line.
func (s *service) buildLog(ctx context.Context, snapshot *task.Task, stream task.Stream, p phase.Phase, line string) {
	stored, err := s.store.AppendBuildLog(ctx, snapshot.ID, stream, p, line)
	if err != nil {
		s.logger.Warn("build log append failed",
			zap.String("task_id", snapshot.ID),
			zap.Error(err))
		return
	}
	s.emitMessage(ctx, snapshot, "build_log_line", fmt.Sprintf("[%s] %s", stream, stored))
}

func (s *service) recordOutcome(ctx context.Context, outcome string) {
	if s.runCounter == nil {
		return
	}
	s.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *service) checkRequest(snapshot *task.Task) qa.CheckRequest {
	return qa.CheckRequest{
		TaskID:       snapshot.ID,
		Title:        snapshot.Title,
		WorktreePath: snapshot.WorktreePath,
	}
}

func streamFor(report *task.QaReport) task.Stream {
	if report.Status == task.StatusPassed {
		return task.StreamStdout
	}
	return task.StreamStderr
}
