package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// subjectPrefix roots every loomd event subject.
const subjectPrefix = "loomd.pipeline"

// NATSPublisher publishes events as JSON onto the NATS message bus.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, logger: logger}, nil
}

// Publish sends the event to its subject.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(Subject(event.EventType), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.EventType, err)
	}
	return nil
}

// Subject maps an event type to its NATS subject. Iteration ordinals
// collapse so qa_fix_iteration_2 lands on loomd.pipeline.qa_fix_iteration
// and subscribers need one subscription per event family.
func Subject(eventType string) string {
	return subjectPrefix + "." + typeToken(eventType)
}

// typeToken strips a trailing _<digits> ordinal from an event type.
func typeToken(eventType string) string {
	if i := strings.LastIndex(eventType, "_"); i > 0 && i < len(eventType)-1 {
		if _, err := strconv.Atoi(eventType[i+1:]); err == nil {
			return eventType[:i]
		}
	}
	return eventType
}
