// Package phase defines the task lifecycle phases, the legal transitions
// between them, and the fixed progress mapping each phase carries.
package phase

import "fmt"

// Phase represents one stage in a task's lifecycle.
type Phase string

const (
	// Discovery explores the bead and identifies what needs doing
	Discovery Phase = "discovery"

	// ContextGathering collects the code and docs relevant to the task
	ContextGathering Phase = "context_gathering"

	// SpecCreation writes the task specification
	SpecCreation Phase = "spec_creation"

	// Planning turns the written specification into an implementation plan
	Planning Phase = "planning"

	// Coding performs the implementation work
	Coding Phase = "coding"

	// Qa runs quality checks against the implementation
	Qa Phase = "qa"

	// Fixing addresses QA findings before re-entering QA
	Fixing Phase = "fixing"

	// Merging lands the change
	Merging Phase = "merging"

	// Complete is the successful terminal state
	Complete Phase = "complete"

	// Error is the failed terminal state
	Error Phase = "error"

	// Stopped is the aborted terminal state (operator or system abort)
	Stopped Phase = "stopped"
)

// All returns every phase, pipeline order first, terminal escape states last.
func All() []Phase {
	return []Phase{
		Discovery, ContextGathering, SpecCreation, Planning,
		Coding, Qa, Fixing, Merging, Complete,
		Error, Stopped,
	}
}

// PipelineOrder returns the ordered pipeline phases, excluding the
// Error/Stopped escape states.
func PipelineOrder() []Phase {
	return []Phase{
		Discovery, ContextGathering, SpecCreation, Planning,
		Coding, Qa, Fixing, Merging, Complete,
	}
}

// Parse converts a string into a Phase.
func Parse(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	switch p {
	case Discovery, ContextGathering, SpecCreation, Planning,
		Coding, Qa, Fixing, Merging, Complete, Error, Stopped:
		return true
	}
	return false
}

// String returns the wire name of the phase.
func (p Phase) String() string {
	return string(p)
}

// CanTransitionTo reports whether the transition p -> to is legal.
//
// The forward chain moves one step at a time with no skipping. Qa and
// Fixing form the fix loop (Qa->Fixing, Fixing->Qa, Fixing->Coding for a
// from-scratch re-attempt). Any phase may escape to Error or Stopped.
// Nothing else is legal.
func (p Phase) CanTransitionTo(to Phase) bool {
	// Escape hatches: any phase, Error and Stopped included, may move to
	// Error or Stopped.
	if to == Error || to == Stopped {
		return true
	}

	switch p {
	case Discovery:
		return to == ContextGathering
	case ContextGathering:
		return to == SpecCreation
	case SpecCreation:
		return to == Planning
	case Planning:
		return to == Coding
	case Coding:
		return to == Qa
	case Qa:
		return to == Fixing || to == Merging
	case Fixing:
		return to == Qa || to == Coding
	case Merging:
		return to == Complete
	}
	return false
}

// Next returns the forward-chain successor of p. The second return is
// false for phases with no single successor (Qa exits through the fix
// loop or Merging; Complete, Error and Stopped are terminal; Fixing
// re-enters the loop).
func (p Phase) Next() (Phase, bool) {
	switch p {
	case Discovery:
		return ContextGathering, true
	case ContextGathering:
		return SpecCreation, true
	case SpecCreation:
		return Planning, true
	case Planning:
		return Coding, true
	case Coding:
		return Qa, true
	case Merging:
		return Complete, true
	}
	return "", false
}

// Progress returns the fixed progress percentage carried by the phase.
func (p Phase) Progress() int {
	switch p {
	case Discovery:
		return 5
	case ContextGathering:
		return 15
	case SpecCreation:
		return 25
	case Planning:
		return 35
	case Coding:
		return 55
	case Qa:
		return 70
	case Fixing:
		return 80
	case Merging:
		return 90
	case Complete:
		return 100
	}
	// Error, Stopped, and anything unknown carry no progress.
	return 0
}

// Terminal reports whether p ends a pipeline run.
func (p Phase) Terminal() bool {
	return p == Complete || p == Error || p == Stopped
}

// InvalidTransitionError reports an attempted illegal phase transition.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition: %s -> %s", e.From, e.To)
}

// NewInvalidTransition builds the error for an illegal from -> to move.
func NewInvalidTransition(from, to Phase) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to}
}
