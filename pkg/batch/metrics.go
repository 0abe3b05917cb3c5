package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records batch loading outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	loads      *prometheus.CounterVec
	duplicates prometheus.Counter
	inFlight   prometheus.Gauge
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loader_runs_total",
				Help:      "Loader invocations by outcome and failure kind",
			},
			[]string{"outcome", "kind"},
		),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_documents_total",
			Help:      "Documents dropped because their content hash was already seen",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaders_in_flight",
			Help:      "Loaders currently holding a concurrency slot",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loader_duration_seconds",
				Help:      "Time spent inside a loader",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.loads, m.duplicates, m.inFlight, m.duration)
	}
	return m
}

func (m *Metrics) observeLoad(outcome, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome, kind).Inc()
	m.duration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) addDuplicates(n int) {
	if m == nil || n == 0 {
		return
	}
	m.duplicates.Add(float64(n))
}

func (m *Metrics) trackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
