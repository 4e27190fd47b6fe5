package admission

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueMetrics tracks the admission queue:
//
//   - loomd_admission_limit - configured concurrency bound
//   - loomd_admission_waiting - pipelines waiting for a slot
//   - loomd_admission_running - pipelines holding a slot
//   - loomd_admission_admitted_total - grants
//   - loomd_admission_rejected_total{reason} - waits ended by "canceled" or "closed"
type queueMetrics struct {
	limit    prometheus.Gauge
	waiting  prometheus.Gauge
	running  prometheus.Gauge
	admitted prometheus.Counter
	rejected *prometheus.CounterVec
}

// promauto panics on duplicate registration, so every Controller in
// the process shares one instrument set.
var sharedQueueMetrics = sync.OnceValue(func() *queueMetrics {
	return &queueMetrics{
		limit: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loomd_admission_limit",
			Help: "Configured maximum number of concurrently running pipelines",
		}),
		waiting: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loomd_admission_waiting",
			Help: "Number of pipelines waiting for an admission slot",
		}),
		running: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loomd_admission_running",
			Help: "Number of pipelines currently holding an admission slot",
		}),
		admitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loomd_admission_admitted_total",
			Help: "Total number of pipelines admitted",
		}),
		rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loomd_admission_rejected_total",
			Help: "Total number of admission waits that ended without a grant",
		}, []string{"reason"}),
	}
})
