package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/loomd/internal/phase"
)

// LogType categorizes entries in a task's general log.
type LogType string

const (
	LogText       LogType = "text"
	LogPhaseStart LogType = "phase_start"
	LogPhaseEnd   LogType = "phase_end"
	LogToolStart  LogType = "tool_start"
	LogToolEnd    LogType = "tool_end"
	LogError      LogType = "error"
	LogSuccess    LogType = "success"
	LogInfo       LogType = "info"
)

// LogEntry is one entry in a task's general log.
type LogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Phase     phase.Phase `json:"phase"`
	Type      LogType     `json:"log_type"`
	Message   string      `json:"message"`
	Detail    string      `json:"detail,omitempty"`
}

// Stream identifies which output stream a build-log line belongs to.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// BuildLogEntry is one captured line of build output, tagged with the
// stream it arrived on and the phase it belongs to.
type BuildLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Stream    Stream      `json:"stream"`
	Line      string      `json:"line"`
	Phase     phase.Phase `json:"phase"`
}

// Severity grades a QA issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Status is the outcome of a QA run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// QaIssue is a single finding from a QA run.
type QaIssue struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
}

// QaReport is the result of running the QA gate against a task.
type QaReport struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Issues    []QaIssue `json:"issues"`
	Timestamp time.Time `json:"timestamp"`
}

// NewQaReport creates a report for a task. A nil issue slice is stored
// as empty so the JSON form renders [] rather than null.
func NewQaReport(taskID string, status Status, issues []QaIssue) *QaReport {
	if issues == nil {
		issues = []QaIssue{}
	}
	return &QaReport{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Status:    status,
		Issues:    issues,
		Timestamp: time.Now().UTC(),
	}
}

// HasCriticalIssues reports whether any issue is critical.
func (r *QaReport) HasCriticalIssues() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// NextPhase maps the QA outcome to the phase the pipeline resolves to:
// a passed report moves the task toward merge, a failed one is terminal,
// a pending one stays in QA.
func (r *QaReport) NextPhase() phase.Phase {
	switch r.Status {
	case StatusPassed:
		return phase.Merging
	case StatusFailed:
		return phase.Error
	default:
		return phase.Qa
	}
}

// Clone returns a deep copy of the report.
func (r *QaReport) Clone() *QaReport {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Issues = make([]QaIssue, len(r.Issues))
	copy(cp.Issues, r.Issues)
	return &cp
}

// BuildStatus summarizes a task's captured build output.
type BuildStatus struct {
	Phase           phase.Phase `json:"phase"`
	ProgressPercent int         `json:"progress_percent"`
	TotalLines      int         `json:"total_lines"`
	StdoutLines     int         `json:"stdout_lines"`
	StderrLines     int         `json:"stderr_lines"`
	ErrorCount      int         `json:"error_count"`
	LastLine        string      `json:"last_line,omitempty"`
}
