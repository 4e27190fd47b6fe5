// Package admission bounds how many pipelines run at once. Callers
// enqueue, learn their queue position, then block until a slot frees.
// Waiters are admitted in arrival order.
package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed is returned to waiters when the controller shuts down.
var ErrClosed = errors.New("admission controller closed")

// Config configures the controller.
type Config struct {
	// MaxConcurrent is the number of pipelines allowed to run at once.
	// Values below 1 are treated as 1.
	MaxConcurrent int
}

// DefaultConfig returns the default admission configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: 1,
	}
}

// Controller is a buffered-channel semaphore with waiting and running
// counters. Goroutines blocked on the channel send are woken in FIFO
// order, which gives first-come-first-served admission.
type Controller struct {
	logger  *zap.Logger
	metrics *queueMetrics

	limit   int
	sem     chan struct{}
	waiting atomic.Int64
	running atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a controller admitting at most cfg.MaxConcurrent at once.
func New(cfg *Config, logger *zap.Logger) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}

	c := &Controller{
		logger:  logger,
		metrics: sharedQueueMetrics(),
		limit:   limit,
		sem:     make(chan struct{}, limit),
		done:    make(chan struct{}),
	}
	c.metrics.limit.Set(float64(limit))
	return c
}

// Limit returns the configured concurrency bound.
func (c *Controller) Limit() int {
	return c.limit
}

// Ticket is a place in the wait queue. Wait must be called exactly
// once per ticket.
type Ticket struct {
	c        *Controller
	position int
}

// Enqueue joins the wait queue and returns a ticket carrying the
// caller's position (1-based, counting every waiter ahead of it plus
// itself).
func (c *Controller) Enqueue() *Ticket {
	position := int(c.waiting.Add(1))
	c.metrics.waiting.Set(float64(c.waiting.Load()))
	return &Ticket{c: c, position: position}
}

// Position returns the queue position observed at enqueue time.
func (t *Ticket) Position() int {
	return t.position
}

// Wait blocks until a slot frees, the context ends, or the controller
// closes. On success the caller owns a running slot until Release.
func (t *Ticket) Wait(ctx context.Context) (*Permit, error) {
	c := t.c
	defer func() {
		c.waiting.Add(-1)
		c.metrics.waiting.Set(float64(c.waiting.Load()))
	}()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.metrics.rejected.WithLabelValues("canceled").Inc()
		return nil, ctx.Err()
	case <-c.done:
		c.metrics.rejected.WithLabelValues("closed").Inc()
		return nil, ErrClosed
	}

	// A close racing the grant wins; give the slot back.
	select {
	case <-c.done:
		<-c.sem
		c.metrics.rejected.WithLabelValues("closed").Inc()
		return nil, ErrClosed
	default:
	}

	c.running.Add(1)
	c.metrics.running.Set(float64(c.running.Load()))
	c.metrics.admitted.Inc()
	return &Permit{c: c}, nil
}

// Acquire is Enqueue followed by Wait.
func (c *Controller) Acquire(ctx context.Context) (*Permit, error) {
	return c.Enqueue().Wait(ctx)
}

// Permit is an occupied running slot.
type Permit struct {
	c    *Controller
	once sync.Once
}

// Release frees the slot. Safe to call more than once; only the first
// call has effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.c.running.Add(-1)
		p.c.metrics.running.Set(float64(p.c.running.Load()))
		<-p.c.sem
	})
}

// Status is a point-in-time view of the queue.
type Status struct {
	Limit            int   `json:"limit"`
	Waiting          int64 `json:"waiting"`
	Running          int64 `json:"running"`
	AvailablePermits int   `json:"available_permits"`
}

// Status returns a non-blocking snapshot. The fields are read without
// a common lock, so a snapshot taken during heavy churn may be
// momentarily inconsistent between counters.
func (c *Controller) Status() Status {
	return Status{
		Limit:            c.limit,
		Waiting:          c.waiting.Load(),
		Running:          c.running.Load(),
		AvailablePermits: c.limit - len(c.sem),
	}
}

// Close wakes every waiter with ErrClosed and fails later Acquires.
// Permits already granted stay valid until released.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.logger.Debug("admission controller closed")
	})
}
