// Package task defines the unit of work the pipeline drives (its phase,
// progress, logs, build output and QA state) and the in-memory store
// that owns the task collection.
package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/loomd/internal/phase"
)

// Task is the orchestrator's unit of execution, derived from a bead.
//
// A task is owned exclusively by one pipeline run while that run is
// active; consumers see read-only snapshots through the store.
type Task struct {
	ID              string          `json:"id"`
	BeadID          string          `json:"bead_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Phase           phase.Phase     `json:"phase"`
	ProgressPercent int             `json:"progress_percent"`
	WorktreePath    string          `json:"worktree_path,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	Logs            []LogEntry      `json:"logs"`
	BuildLogs       []BuildLogEntry `json:"build_logs"`
	QaReport        *QaReport       `json:"qa_report,omitempty"`
}

// New creates a task in the discovery phase. Progress stays at zero until
// the first SetPhase call; construction never maps phase to progress.
func New(beadID, title, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:              uuid.NewString(),
		BeadID:          beadID,
		Title:           title,
		Description:     description,
		Phase:           phase.Discovery,
		ProgressPercent: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
		Logs:            []LogEntry{},
		BuildLogs:       []BuildLogEntry{},
	}
}

// SetPhase moves the task to the given phase, rejecting illegal
// transitions with *phase.InvalidTransitionError. On success the phase
// and its mapped progress are updated together; nothing else changes.
func (t *Task) SetPhase(to phase.Phase) error {
	if !t.Phase.CanTransitionTo(to) {
		return phase.NewInvalidTransition(t.Phase, to)
	}
	t.Phase = to
	t.ProgressPercent = to.Progress()
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendLog adds an entry to the general log, tagged with the task's
// current phase.
func (t *Task) AppendLog(logType LogType, message, detail string) {
	t.Logs = append(t.Logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Phase:     t.Phase,
		Type:      logType,
		Message:   message,
		Detail:    detail,
	})
	t.UpdatedAt = time.Now().UTC()
}

// AppendBuildLog records one line of build output. The phase tag names
// the phase the line belongs to, which the driver may pin independently
// of the task's current phase (a fix-iteration notice is tagged fixing
// before the transition lands).
func (t *Task) AppendBuildLog(stream Stream, p phase.Phase, line string) {
	t.BuildLogs = append(t.BuildLogs, BuildLogEntry{
		Timestamp: time.Now().UTC(),
		Stream:    stream,
		Line:      line,
		Phase:     p,
	})
	t.UpdatedAt = time.Now().UTC()
}

// TruncateLogs bounds both log sequences independently to the most
// recent max entries, preserving relative order. Sequences already at or
// below max are left untouched; max zero clears both.
func (t *Task) TruncateLogs(max int) {
	if max < 0 {
		return
	}
	if len(t.Logs) > max {
		t.Logs = append([]LogEntry{}, t.Logs[len(t.Logs)-max:]...)
	}
	if len(t.BuildLogs) > max {
		t.BuildLogs = append([]BuildLogEntry{}, t.BuildLogs[len(t.BuildLogs)-max:]...)
	}
}

// BuildLogsSince returns the build-log entries recorded strictly after
// the given time, in order.
func (t *Task) BuildLogsSince(since time.Time) []BuildLogEntry {
	out := []BuildLogEntry{}
	for _, e := range t.BuildLogs {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// BuildStatus summarizes the captured build output. The error count is
// the stderr line count.
func (t *Task) BuildStatus() BuildStatus {
	status := BuildStatus{
		Phase:           t.Phase,
		ProgressPercent: t.ProgressPercent,
		TotalLines:      len(t.BuildLogs),
	}
	for _, e := range t.BuildLogs {
		if e.Stream == StreamStderr {
			status.StderrLines++
		} else {
			status.StdoutLines++
		}
	}
	status.ErrorCount = status.StderrLines
	if n := len(t.BuildLogs); n > 0 {
		status.LastLine = t.BuildLogs[n-1].Line
	}
	return status
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Logs = make([]LogEntry, len(t.Logs))
	copy(cp.Logs, t.Logs)
	cp.BuildLogs = make([]BuildLogEntry, len(t.BuildLogs))
	copy(cp.BuildLogs, t.BuildLogs)
	cp.QaReport = t.QaReport.Clone()
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
