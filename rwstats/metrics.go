// Package rwstats provides rwmutex observers that export lock activity.
package rwstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gitlab.com/slon/fairrw/rwmutex"
)

const (
	modeRead  = "read"
	modeWrite = "write"
)

// Metrics exports lock activity as prometheus collectors. It implements
// rwmutex.Observer.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	wait         *prometheus.HistogramVec
	readers      prometheus.Gauge
	groups       prometheus.Counter
}

var _ rwmutex.Observer = (*Metrics)(nil)

// NewMetrics creates Metrics for the lock named lock and registers them in reg.
func NewMetrics(reg prometheus.Registerer, lock string) (*Metrics, error) {
	labels := prometheus.Labels{"lock": lock}

	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "fairrw",
			Name:        "acquisitions_total",
			Help:        "Number of lock acquisitions by mode.",
			ConstLabels: labels,
		}, []string{"mode"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "fairrw",
			Name:        "wait_seconds",
			Help:        "Time spent waiting for admission.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"mode"}),
		readers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fairrw",
			Name:        "readers",
			Help:        "Readers registered in the critical section.",
			ConstLabels: labels,
		}),
		groups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fairrw",
			Name:        "reader_groups_total",
			Help:        "Number of times a reader group took the critical section.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{m.acquisitions, m.wait, m.readers, m.groups} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ReadAcquired(wait time.Duration, _ int, first bool) {
	m.acquisitions.WithLabelValues(modeRead).Inc()
	m.wait.WithLabelValues(modeRead).Observe(wait.Seconds())
	// Callbacks may land out of order; only deltas commute.
	m.readers.Inc()
	if first {
		m.groups.Inc()
	}
}

func (m *Metrics) ReadReleased(int, bool) {
	m.readers.Dec()
}

func (m *Metrics) WriteAcquired(wait time.Duration) {
	m.acquisitions.WithLabelValues(modeWrite).Inc()
	m.wait.WithLabelValues(modeWrite).Observe(wait.Seconds())
}

func (m *Metrics) WriteReleased() {}
