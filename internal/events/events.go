// Package events carries pipeline lifecycle notifications. Producers
// publish fire-and-forget; delivery to in-process subscribers and the
// NATS bus is best effort and never blocks the pipeline.
package events

import (
	"context"
	"errors"
	"time"
)

// Event is one pipeline notification.
type Event struct {
	EventType string    `json:"event_type"`
	AgentID   string    `json:"agent_id,omitempty"`
	BeadID    string    `json:"bead_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped with the current UTC time.
func New(eventType, message string) Event {
	return Event{
		EventType: eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithBead returns a copy of the event carrying the bead reference.
func (e Event) WithBead(beadID string) Event {
	e.BeadID = beadID
	return e
}

// WithAgent returns a copy of the event carrying the agent reference.
func (e Event) WithAgent(agentID string) Event {
	e.AgentID = agentID
	return e
}

// Publisher delivers events somewhere. Implementations must not block
// on slow consumers. Errors are advisory; callers log them and move on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to every publisher, collecting errors.
func Multi(publishers ...Publisher) Publisher {
	return multi(publishers)
}

type multi []Publisher

func (m multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
