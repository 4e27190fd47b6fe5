package services

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/qa"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors_Empty(t *testing.T) {
	reg := NewRegistry(Options{})

	if reg.Tasks() != nil {
		t.Error("Tasks() = non-nil, want nil")
	}
	if reg.Pipeline() != nil {
		t.Error("Pipeline() = non-nil, want nil")
	}
	if reg.Recovery() != nil {
		t.Error("Recovery() = non-nil, want nil")
	}
	if reg.Gate() != nil {
		t.Error("Gate() = non-nil, want nil")
	}
	if reg.Bus() != nil {
		t.Error("Bus() = non-nil, want nil")
	}
	if reg.Publisher() != nil {
		t.Error("Publisher() = non-nil, want nil")
	}
	if reg.Scrubber() != nil {
		t.Error("Scrubber() = non-nil, want nil")
	}
}

func TestRegistryAccessors_ReturnWhatWasPassed(t *testing.T) {
	store := task.NewStore(nil, nil, zap.NewNop())
	bus := events.NewBus(zap.NewNop())
	defer bus.Close()
	gate := qa.NewPolicyGate(qa.DefaultPolicy(), zap.NewNop())

	reg := NewRegistry(Options{
		Tasks:     store,
		Gate:      gate,
		Bus:       bus,
		Publisher: bus,
	})

	if reg.Tasks() != store {
		t.Error("task store accessor mismatch")
	}
	if reg.Gate() != gate {
		t.Error("qa gate accessor mismatch")
	}
	if reg.Bus() != bus {
		t.Error("event bus accessor mismatch")
	}
	if reg.Publisher() != events.Publisher(bus) {
		t.Error("publisher accessor mismatch")
	}
}
