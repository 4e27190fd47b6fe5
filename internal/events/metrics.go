package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// busMetrics counts event delivery outcomes:
//
//   - loomd_events_published_total{event_type} - events accepted by the bus
//   - loomd_events_dropped_total - events lost to full subscriber buffers
//   - loomd_events_subscribers - current subscriber count
type busMetrics struct {
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

// promauto panics on duplicate registration, so every Bus in the
// process shares one instrument set.
var sharedBusMetrics = sync.OnceValue(func() *busMetrics {
	return &busMetrics{
		published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loomd_events_published_total",
			Help: "Total number of pipeline events published to the bus",
		}, []string{"event_type"}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loomd_events_dropped_total",
			Help: "Total number of events dropped because a subscriber buffer was full",
		}),
		subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loomd_events_subscribers",
			Help: "Current number of event bus subscribers",
		}),
	}
})
