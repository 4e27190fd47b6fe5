package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/phase"
	"github.com/fyrsmithlabs/loomd/internal/qa"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

// scriptedGate returns a canned result per call. When block is set,
// every call first waits for the channel to close or the context to
// be canceled.
type scriptedGate struct {
	block   chan struct{}
	mu      sync.Mutex
	results []gateResult
	calls   int
}

type gateResult struct {
	status task.Status
	issues []task.QaIssue
	err    error
}

func (g *scriptedGate) Run(ctx context.Context, req qa.CheckRequest) (*task.QaReport, error) {
	if g.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.block:
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i >= len(g.results) {
		i = len(g.results) - 1
	}
	r := g.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return task.NewQaReport(req.TaskID, r.status, r.issues), nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) has(eventType, beadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EventType == eventType && e.BeadID == beadID {
			return true
		}
	}
	return false
}

// phaseEvents returns the event types seen for a bead, in order,
// with the high-volume build_log_line noise filtered out.
func (p *capturingPublisher) phaseEvents(beadID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.BeadID != beadID || e.EventType == "build_log_line" {
			continue
		}
		out = append(out, e.EventType)
	}
	return out
}

func (p *capturingPublisher) message(eventType, beadID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EventType == eventType && e.BeadID == beadID {
			return e.Message
		}
	}
	return ""
}

func (p *capturingPublisher) indexOf(eventType, beadID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.events {
		if e.EventType == eventType && e.BeadID == beadID {
			return i
		}
	}
	return -1
}

func newTestService(t *testing.T, cfg *Config, gate qa.Gate, runner CodingRunner) (Service, *task.Store, *capturingPublisher) {
	t.Helper()
	store := task.NewStore(nil, nil, zaptest.NewLogger(t))
	pub := &capturingPublisher{}
	svc, err := NewService(cfg, store, gate, pub, runner, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store, pub
}

func createTask(t *testing.T, store *task.Store, title, beadID string) *task.Task {
	t.Helper()
	created, err := store.Create(context.Background(), task.CreateRequest{Title: title, BeadID: beadID})
	require.NoError(t, err)
	return created
}

func waitForEvent(t *testing.T, pub *capturingPublisher, eventType, beadID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return pub.has(eventType, beadID)
	}, 5*time.Second, 10*time.Millisecond, "event %s for bead %s never arrived", eventType, beadID)
}

// waitDrained blocks until the task's run has unregistered. Only call
// it after the run has been observed to finish.
func waitDrained(t *testing.T, svc Service, taskID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return errors.Is(svc.Stop(context.Background(), taskID), ErrNoActiveRun)
	}, 5*time.Second, 10*time.Millisecond)
}

func hasBuildLine(tk *task.Task, stream task.Stream, p phase.Phase, line string) bool {
	for _, e := range tk.BuildLogs {
		if e.Stream == stream && e.Phase == p && e.Line == line {
			return true
		}
	}
	return false
}

func TestNewService(t *testing.T) {
	store := task.NewStore(nil, nil, zaptest.NewLogger(t))
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPassed}}}
	pub := &capturingPublisher{}

	t.Run("nil store rejected", func(t *testing.T) {
		_, err := NewService(nil, nil, gate, pub, nil, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task store")
	})

	t.Run("nil gate rejected", func(t *testing.T) {
		_, err := NewService(nil, store, nil, pub, nil, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "qa gate")
	})

	t.Run("nil publisher rejected", func(t *testing.T) {
		_, err := NewService(nil, store, gate, nil, nil, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event publisher")
	})

	t.Run("defaults", func(t *testing.T) {
		svc, err := NewService(nil, store, gate, pub, nil, nil)
		require.NoError(t, err)
		defer svc.Close()
		assert.Equal(t, 1, svc.QueueStatus().Limit)
	})
}

func TestExecuteUnknownTask(t *testing.T) {
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPassed}}}
	svc, _, _ := newTestService(t, nil, gate, nil)

	err := svc.Execute(context.Background(), "nope")
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestExecuteRejectsIllegalPhase(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPassed}}}
	svc, store, _ := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "done already", "b-1")
	require.NoError(t, store.Update(ctx, created.ID, func(tk *task.Task) error {
		tk.Phase = phase.Complete
		return nil
	}))

	err := svc.Execute(ctx, created.ID)
	var transitionErr *phase.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, phase.Complete, transitionErr.From)
	assert.Equal(t, phase.Coding, transitionErr.To)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Complete, got.Phase)
	assert.Nil(t, got.StartedAt)
}

func TestPipelinePasses(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPassed}}}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "add feature", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	waitForEvent(t, pub, "pipeline_complete", "b-1")

	assert.Equal(t, []string{
		"pipeline_queued",
		"pipeline_started",
		"pipeline_start",
		"coding_phase_start",
		"coding_phase_complete",
		"qa_phase_start",
		"qa_phase_complete",
		"pipeline_complete",
	}, pub.phaseEvents("b-1"))

	assert.Equal(t, "Task 'add feature': pipeline_start", pub.message("pipeline_start", "b-1"))
	assert.Contains(t, pub.message("pipeline_queued", "b-1"), "queued (position=1, limit=1)")
	assert.Contains(t, pub.message("pipeline_started", "b-1"), "started (running=1, limit=1)")

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Merging, got.Phase)
	assert.Equal(t, 90, got.ProgressPercent)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.QaReport)
	assert.Equal(t, task.StatusPassed, got.QaReport.Status)

	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Coding, "Coding phase started"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Coding, "Coding phase complete"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Qa, "QA phase started"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Qa, "QA result: passed (0 issues)"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Complete, "Pipeline completed successfully"))

	// Every build-log line is mirrored as an event carrying the stream.
	assert.True(t, pub.has("build_log_line", "b-1"))
	foundMirror := false
	pub.mu.Lock()
	for _, e := range pub.events {
		if e.EventType == "build_log_line" && e.Message == "[stdout] Coding phase started" {
			foundMirror = true
		}
	}
	pub.mu.Unlock()
	assert.True(t, foundMirror)
}

func TestFixLoopRecovers(t *testing.T) {
	ctx := context.Background()
	issues := []task.QaIssue{{ID: "i-1", Severity: task.SeverityMajor, Description: "unchecked error"}}
	gate := &scriptedGate{results: []gateResult{
		{status: task.StatusFailed, issues: issues},
		{status: task.StatusFailed, issues: issues},
		{status: task.StatusPassed},
	}}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "flaky change", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	waitForEvent(t, pub, "pipeline_complete", "b-1")

	assert.Equal(t, []string{
		"pipeline_queued",
		"pipeline_started",
		"pipeline_start",
		"coding_phase_start",
		"coding_phase_complete",
		"qa_phase_start",
		"qa_phase_complete",
		"qa_fix_iteration_1",
		"qa_fix_iteration_2",
		"pipeline_complete",
	}, pub.phaseEvents("b-1"))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Merging, got.Phase)
	require.NotNil(t, got.QaReport)
	assert.Equal(t, task.StatusPassed, got.QaReport.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Qa, "QA result: failed (1 issues)"))
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Fixing, "Fix iteration 1 of 3"))
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Fixing, "Fix iteration 2 of 3"))
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Qa, "QA re-check result: failed (1 issues)"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Qa, "QA re-check result: passed (0 issues)"))
}

func TestFixLoopExhausted(t *testing.T) {
	ctx := context.Background()
	issues := []task.QaIssue{{ID: "i-1", Severity: task.SeverityCritical, Description: "panics on nil input"}}
	gate := &scriptedGate{results: []gateResult{{status: task.StatusFailed, issues: issues}}}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "doomed change", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	waitForEvent(t, pub, "pipeline_complete_with_failures", "b-1")

	assert.Equal(t, []string{
		"pipeline_queued",
		"pipeline_started",
		"pipeline_start",
		"coding_phase_start",
		"coding_phase_complete",
		"qa_phase_start",
		"qa_phase_complete",
		"qa_fix_iteration_1",
		"qa_fix_iteration_2",
		"qa_fix_iteration_3",
		"pipeline_complete_with_failures",
	}, pub.phaseEvents("b-1"))

	// Initial check plus one re-check per fix iteration.
	gate.mu.Lock()
	calls := gate.calls
	gate.mu.Unlock()
	assert.Equal(t, 4, calls)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Error, got.Phase)
	assert.Equal(t, 0, got.ProgressPercent)
	assert.Equal(t, "QA failed after 3 fix iterations", got.Error)
	assert.Nil(t, got.CompletedAt)
	require.NotNil(t, got.QaReport)
	assert.Equal(t, task.StatusFailed, got.QaReport.Status)
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Error, "Pipeline completed with failures"))
}

func TestPendingResolvesWithFailures(t *testing.T) {
	ctx := context.Background()
	issues := []task.QaIssue{{ID: "i-1", Severity: task.SeverityMinor, Description: "needs human review"}}
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPending, issues: issues}}}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "review me", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	waitForEvent(t, pub, "pipeline_complete_with_failures", "b-1")

	// Pending never enters the fix loop.
	for _, eventType := range pub.phaseEvents("b-1") {
		assert.NotContains(t, eventType, "qa_fix_iteration")
	}

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Qa, got.Phase)
	assert.Equal(t, "QA finished with status pending", got.Error)
	assert.Nil(t, got.CompletedAt)
	require.NotNil(t, got.QaReport)
	assert.Equal(t, task.StatusPending, got.QaReport.Status)
}

func TestGateError(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{results: []gateResult{{err: errors.New("boom")}}}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "gate down", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	waitForEvent(t, pub, "pipeline_complete_with_failures", "b-1")

	seen := pub.phaseEvents("b-1")
	assert.NotContains(t, seen, "qa_phase_complete")
	for _, eventType := range seen {
		assert.NotContains(t, eventType, "qa_fix_iteration")
	}

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Error, got.Phase)
	assert.Equal(t, "qa gate: boom", got.Error)
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Qa, "QA gate error: boom"))
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{
		block:   make(chan struct{}),
		results: []gateResult{{status: task.StatusPassed}},
	}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "long haul", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	// The run is parked inside the QA gate once qa_phase_start is out.
	waitForEvent(t, pub, "qa_phase_start", "b-1")

	require.NoError(t, svc.Stop(ctx, created.ID))

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, created.ID)
		return err == nil && got.Phase == phase.Stopped
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProgressPercent)
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Stopped, "Pipeline stopped"))

	assert.False(t, pub.has("pipeline_complete", "b-1"))
	assert.False(t, pub.has("pipeline_complete_with_failures", "b-1"))

	waitDrained(t, svc, created.ID)
	require.ErrorIs(t, svc.Stop(ctx, created.ID), ErrNoActiveRun)
}

func TestExecuteWhileRunning(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{
		block:   make(chan struct{}),
		results: []gateResult{{status: task.StatusPassed}},
	}
	svc, store, pub := newTestService(t, nil, gate, nil)

	created := createTask(t, store, "busy", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))
	waitForEvent(t, pub, "pipeline_started", "b-1")

	require.ErrorIs(t, svc.Execute(ctx, created.ID), ErrRunActive)

	close(gate.block)
	waitForEvent(t, pub, "pipeline_complete", "b-1")
}

func TestQueueSerializesRuns(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{
		block:   make(chan struct{}),
		results: []gateResult{{status: task.StatusPassed}},
	}
	svc, store, pub := newTestService(t, nil, gate, nil)

	first := createTask(t, store, "alpha", "b-alpha")
	second := createTask(t, store, "beta", "b-beta")

	require.NoError(t, svc.Execute(ctx, first.ID))
	waitForEvent(t, pub, "pipeline_started", "b-alpha")

	require.NoError(t, svc.Execute(ctx, second.ID))
	waitForEvent(t, pub, "pipeline_queued", "b-beta")

	// With a limit of one the second run waits for the first permit.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, pub.has("pipeline_started", "b-beta"))

	status := svc.QueueStatus()
	assert.Equal(t, 1, status.Limit)
	assert.Equal(t, int64(1), status.Running)
	assert.Equal(t, int64(1), status.Waiting)

	close(gate.block)
	waitForEvent(t, pub, "pipeline_complete", "b-beta")

	assert.Less(t,
		pub.indexOf("pipeline_complete", "b-alpha"),
		pub.indexOf("pipeline_started", "b-beta"))
}

type fakeRunner struct {
	lines []string
	err   error
}

func (r *fakeRunner) RunCoding(_ context.Context, _ RunRequest, sink func(stream task.Stream, line string)) error {
	for _, line := range r.lines {
		sink(task.StreamStdout, line)
	}
	return r.err
}

func TestCodingRunnerOutput(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPassed}}}
	runner := &fakeRunner{lines: []string{"compiling", "linking"}, err: errors.New("exit status 2")}
	svc, store, pub := newTestService(t, nil, gate, runner)

	created := createTask(t, store, "runner task", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))

	waitForEvent(t, pub, "pipeline_complete", "b-1")

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Coding, "Coding runner available; delegating coding phase"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Coding, "compiling"))
	assert.True(t, hasBuildLine(got, task.StreamStdout, phase.Coding, "linking"))

	// A runner failure is recorded but never aborts the run.
	assert.True(t, hasBuildLine(got, task.StreamStderr, phase.Coding, "Coding runner failed: exit status 2"))
	assert.Equal(t, phase.Merging, got.Phase)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{
		block:   make(chan struct{}),
		results: []gateResult{{status: task.StatusPassed}},
	}
	store := task.NewStore(nil, nil, zaptest.NewLogger(t))
	pub := &capturingPublisher{}
	svc, err := NewService(nil, store, gate, pub, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	created := createTask(t, store, "interrupted", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))
	waitForEvent(t, pub, "qa_phase_start", "b-1")

	require.NoError(t, svc.Close())

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, phase.Stopped, got.Phase)

	require.ErrorIs(t, svc.Execute(ctx, created.ID), ErrClosed)
	require.NoError(t, svc.Close())
}

func TestQueuedPositionMessage(t *testing.T) {
	ctx := context.Background()
	gate := &scriptedGate{results: []gateResult{{status: task.StatusPassed}}}
	svc, store, pub := newTestService(t, &Config{MaxFixIterations: 3, QueueLimit: 2}, gate, nil)

	created := createTask(t, store, "roomy", "b-1")
	require.NoError(t, svc.Execute(ctx, created.ID))
	waitForEvent(t, pub, "pipeline_complete", "b-1")

	msg := pub.message("pipeline_queued", "b-1")
	assert.True(t, strings.HasPrefix(msg, "Task 'roomy' queued (position=1, limit=2)"), msg)
}
