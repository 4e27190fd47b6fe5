package recovery

import (
	"time"

	"github.com/fyrsmithlabs/loomd/internal/phase"
)

// Action is what the advisor tells an operator to try next.
type Action string

const (
	// ActionRetry re-runs the failed phase as-is.
	ActionRetry Action = "retry"

	// ActionRollback rewinds the session to the phase's entry state
	// before re-running.
	ActionRollback Action = "rollback"

	// ActionSkip abandons the phase and moves the session forward.
	ActionSkip Action = "skip"

	// ActionEscalate hands the session to a human.
	ActionEscalate Action = "escalate"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRetry, ActionRollback, ActionSkip, ActionEscalate:
		return true
	}
	return false
}

// Record is one recovery attempt against a session's phase. New
// records start unsuccessful and are flipped when the attempt works.
type Record struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	Phase      phase.Phase `json:"phase"`
	Action     Action      `json:"action"`
	Reason     string      `json:"reason,omitempty"`
	Successful bool        `json:"successful"`
	Timestamp  time.Time   `json:"timestamp"`
}
