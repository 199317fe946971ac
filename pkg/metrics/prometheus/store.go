package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/obexd/pkg/metrics"
)

// storeMetrics is the Prometheus implementation for the session store.
type storeMetrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	entries  prometheus.Gauge
}

var (
	storeOnce     sync.Once
	storeInstance *storeMetrics
)

// NewStoreMetrics returns the process wide store metrics, or nil when the
// registry was not initialised.
func NewStoreMetrics() *storeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	storeOnce.Do(func() {
		f := promauto.With(metrics.GetRegistry())
		storeInstance = &storeMetrics{
			ops: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_session_store_operations_total",
				Help: "Session store calls by operation and result",
			}, []string{"op", "result"}), // "save", "delete", "list"
			duration: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "obexd_session_store_duration_seconds",
				Help:    "Session store call latency",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			}, []string{"op"}),
			entries: f.NewGauge(prometheus.GaugeOpts{
				Name: "obexd_session_store_entries",
				Help: "Suspended sessions persisted in the store",
			}),
		}
	})
	return storeInstance
}

func (m *storeMetrics) RecordOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *storeMetrics) SetEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}
