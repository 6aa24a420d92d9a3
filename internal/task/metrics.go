package task

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the Prometheus collectors of one executor. They are created
// for every executor and only exposed when a Registerer is configured.
type metrics struct {
	submitted prometheus.Counter
	rejected  *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  prometheus.Histogram
	workers   prometheus.Gauge
	active    prometheus.Gauge
}

func newMetrics(namespace string) *metrics {
	return &metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "units_submitted_total",
			Help:      "Work units accepted by the executor.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "units_rejected_total",
			Help:      "Work units refused by the executor.",
		}, []string{"reason"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "units_completed_total",
			Help:      "Work units that finished running, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "unit_duration_seconds",
			Help:      "Time spent in work unit Run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "workers",
			Help:      "Live worker goroutines.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "active_workers",
			Help:      "Workers currently running a unit.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.submitted, m.rejected, m.completed, m.duration, m.workers, m.active}
}

// register adds the collectors to reg, undoing partial registration on
// failure.
func (m *metrics) register(reg prometheus.Registerer) error {
	var done []prometheus.Collector
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			for _, d := range done {
				reg.Unregister(d)
			}
			return err
		}
		done = append(done, c)
	}
	return nil
}

func outcome(ev Event) string {
	switch {
	case ev.Panicked():
		return "panicked"
	case ev.Failed():
		return "failed"
	default:
		return "succeeded"
	}
}

func rejectReason(err error) string {
	if errors.Is(err, ErrShutdown) {
		return "shutdown"
	}
	return "saturated"
}
