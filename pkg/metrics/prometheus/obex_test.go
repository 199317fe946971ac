package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/pkg/metrics"
)

func TestOBEXMetrics(t *testing.T) {
	metrics.InitRegistry()

	m := metrics.NewOBEXMetrics()
	require.NotNil(t, m)

	metrics.RecordRequest(m, "server", "PUT")
	metrics.RecordRequest(m, "server", "PUT")
	metrics.RecordBodyBytes(m, "server", "rx", 10)
	metrics.RecordAuth(m, "server", false)

	om := m.(*obexMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(om.requests.WithLabelValues("server", "PUT")))
	assert.Equal(t, 10.0, testutil.ToFloat64(om.bodyBytes.WithLabelValues("server", "rx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(om.auth.WithLabelValues("server", "false")))

	s := metrics.NewStoreMetrics()
	require.NotNil(t, s)
	metrics.RecordStoreOperation(s, "save", time.Millisecond, errors.New("disk"))
	sm := s.(*storeMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.ops.WithLabelValues("save", "error")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m metrics.OBEXMetrics
	metrics.RecordRequest(m, "client", "GET")
	metrics.SetConnections(m, "client", 3)

	var om *obexMetrics
	om.RecordRequest("client", "GET")
}
