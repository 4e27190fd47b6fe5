package services

import (
	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/pipeline"
	"github.com/fyrsmithlabs/loomd/internal/qa"
	"github.com/fyrsmithlabs/loomd/internal/recovery"
	"github.com/fyrsmithlabs/loomd/internal/scrub"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

// Registry hands out the daemon's core services.
type Registry interface {
	Tasks() *task.Store
	Pipeline() pipeline.Service
	Recovery() recovery.Service
	Gate() qa.Gate
	Bus() *events.Bus
	Publisher() events.Publisher
	Scrubber() *scrub.Scrubber
}

// Options carries the already-constructed services for NewRegistry.
type Options struct {
	Tasks     *task.Store
	Pipeline  pipeline.Service
	Recovery  recovery.Service
	Gate      qa.Gate
	Bus       *events.Bus
	Publisher events.Publisher
	Scrubber  *scrub.Scrubber
}

type registry struct {
	tasks     *task.Store
	pipeline  pipeline.Service
	recovery  recovery.Service
	gate      qa.Gate
	bus       *events.Bus
	publisher events.Publisher
	scrubber  *scrub.Scrubber
}

// NewRegistry builds a registry from the given services. Fields left
// nil in opts come back nil from their accessors; callers that require
// a service validate it at their own constructor.
func NewRegistry(opts Options) Registry {
	return &registry{
		tasks:     opts.Tasks,
		pipeline:  opts.Pipeline,
		recovery:  opts.Recovery,
		gate:      opts.Gate,
		bus:       opts.Bus,
		publisher: opts.Publisher,
		scrubber:  opts.Scrubber,
	}
}

func (r *registry) Tasks() *task.Store          { return r.tasks }
func (r *registry) Pipeline() pipeline.Service  { return r.pipeline }
func (r *registry) Recovery() recovery.Service  { return r.recovery }
func (r *registry) Gate() qa.Gate               { return r.gate }
func (r *registry) Bus() *events.Bus            { return r.bus }
func (r *registry) Publisher() events.Publisher { return r.publisher }
func (r *registry) Scrubber() *scrub.Scrubber   { return r.scrubber }
