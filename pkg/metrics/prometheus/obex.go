// Package prometheus implements pkg/metrics on top of the Prometheus client.
// Importing it for side effects registers the constructors.
package prometheus

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/obexd/pkg/metrics"
)

func init() {
	metrics.RegisterOBEXMetricsConstructor(func() metrics.OBEXMetrics { return NewOBEXMetrics() })
	metrics.RegisterStoreMetricsConstructor(func() metrics.StoreMetrics { return NewStoreMetrics() })
}

type obexMetrics struct {
	requests    *prometheus.CounterVec
	responses   *prometheus.CounterVec
	bodyBytes   *prometheus.CounterVec
	srmEngaged  *prometheus.CounterVec
	partial     *prometheus.CounterVec
	sessionOps  *prometheus.CounterVec
	auth        *prometheus.CounterVec
	suspended   prometheus.Gauge
	connections *prometheus.GaugeVec
}

var (
	obexOnce     sync.Once
	obexInstance *obexMetrics
)

// NewOBEXMetrics returns the process wide OBEX metrics, or nil when the
// registry was not initialised.
func NewOBEXMetrics() *obexMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	obexOnce.Do(func() {
		f := promauto.With(metrics.GetRegistry())
		obexInstance = &obexMetrics{
			requests: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_requests_total",
				Help: "OBEX requests by role and opcode",
			}, []string{"role", "opcode"}),
			responses: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_responses_total",
				Help: "OBEX responses by role, opcode and status",
			}, []string{"role", "opcode", "status"}),
			bodyBytes: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_body_bytes_total",
				Help: "Object bytes carried in Body and End-of-Body headers",
			}, []string{"role", "direction"}),
			srmEngaged: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_srm_engaged_total",
				Help: "Exchanges that engaged single response mode",
			}, []string{"role"}),
			partial: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_partial_sends_total",
				Help: "Packets the transport accepted only in part",
			}, []string{"role"}),
			sessionOps: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_session_operations_total",
				Help: "Reliable session operations by outcome",
			}, []string{"role", "op", "status"}),
			auth: f.NewCounterVec(prometheus.CounterOpts{
				Name: "obexd_auth_total",
				Help: "Authentication attempts by outcome",
			}, []string{"role", "ok"}),
			suspended: f.NewGauge(prometheus.GaugeOpts{
				Name: "obexd_suspended_sessions",
				Help: "Sessions held in the suspended table",
			}),
			connections: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "obexd_connections",
				Help: "Live connections by role",
			}, []string{"role"}),
		}
	})
	return obexInstance
}

func (m *obexMetrics) RecordRequest(role, opcode string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(role, opcode).Inc()
}

func (m *obexMetrics) RecordResponse(role, opcode, status string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(role, opcode, status).Inc()
}

func (m *obexMetrics) RecordBodyBytes(role, direction string, n int) {
	if m == nil {
		return
	}
	m.bodyBytes.WithLabelValues(role, direction).Add(float64(n))
}

func (m *obexMetrics) RecordSRMEngaged(role string) {
	if m == nil {
		return
	}
	m.srmEngaged.WithLabelValues(role).Inc()
}

func (m *obexMetrics) RecordPartialSend(role string) {
	if m == nil {
		return
	}
	m.partial.WithLabelValues(role).Inc()
}

func (m *obexMetrics) RecordSessionOp(role, op, status string) {
	if m == nil {
		return
	}
	m.sessionOps.WithLabelValues(role, op, status).Inc()
}

func (m *obexMetrics) RecordAuth(role string, ok bool) {
	if m == nil {
		return
	}
	m.auth.WithLabelValues(role, strconv.FormatBool(ok)).Inc()
}

func (m *obexMetrics) SetSuspendedSessions(n int) {
	if m == nil {
		return
	}
	m.suspended.Set(float64(n))
}

func (m *obexMetrics) SetConnections(role string, n int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Set(float64(n))
}
