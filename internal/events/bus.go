package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	// recentCapacity bounds the ring of recent events kept for queries.
	recentCapacity = 256
	// defaultSubscriberBuffer is used when Subscribe is given a
	// non-positive buffer size.
	defaultSubscriberBuffer = 16
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Bus is the in-process publisher. Fan-out is non-blocking: a
// subscriber whose buffer is full loses the event rather than stalling
// the pipeline. The bus also keeps a ring of recent events for the
// query surface.
type Bus struct {
	logger  *zap.Logger
	metrics *busMetrics

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	ring   []Event
	next   int
	size   int
	closed bool
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:  logger,
		metrics: sharedBusMetrics(),
		subs:    make(map[int]chan Event),
		ring:    make([]Event, recentCapacity),
	}
}

// Subscribe registers a consumer and returns its channel plus a cancel
// func. Cancel removes the subscription and closes the channel; calling
// it more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.metrics.subscribers.Set(float64(len(b.subs)))

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
			b.metrics.subscribers.Set(float64(len(b.subs)))
		}
	}
	return ch, cancel
}

// Publish records the event and fans it out without blocking.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	b.ring[b.next] = event
	b.next = (b.next + 1) % recentCapacity
	if b.size < recentCapacity {
		b.size++
	}
	b.metrics.published.WithLabelValues(typeToken(event.EventType)).Inc()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.metrics.dropped.Inc()
			b.logger.Debug("event dropped, subscriber buffer full",
				zap.String("event_type", event.EventType),
			)
		}
	}
	return nil
}

// Recent returns the retained events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		idx := (b.next - b.size + i + recentCapacity) % recentCapacity
		out = append(out, b.ring[idx])
	}
	return out
}

// Close unsubscribes every consumer and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.metrics.subscribers.Set(0)
}
