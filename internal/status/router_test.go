package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/inbox"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
)

type fakeEngine struct {
	err       error
	conns     []engine.ConnInfo
	suspended []session.Entry
}

func (f *fakeEngine) Do(context.Context, func() error) error { return f.err }

func (f *fakeEngine) Connections(context.Context) ([]engine.ConnInfo, error) {
	return f.conns, f.err
}

func (f *fakeEngine) Suspended(context.Context) ([]session.Entry, error) {
	return f.suspended, f.err
}

type fakeStore struct{ err error }

func (f fakeStore) Healthcheck(context.Context) error { return f.err }

func get(t *testing.T, h http.Handler, path string, into any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if into != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	r := NewRouter(Deps{Engine: &fakeEngine{}})

	var resp Response
	assert.Equal(t, http.StatusOK, get(t, r, "/health", &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "obexd", resp.Data.(map[string]any)["service"])

	assert.Equal(t, http.StatusOK, get(t, r, "/health/ready", &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadinessFailures(t *testing.T) {
	var resp Response
	r := NewRouter(Deps{Engine: &fakeEngine{err: types.ErrClosed}})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/health/ready", &resp))
	assert.Contains(t, resp.Error, "engine")

	r = NewRouter(Deps{Engine: &fakeEngine{}, Store: fakeStore{err: errors.New("disk gone")}})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/health/ready", &resp))
	assert.Contains(t, resp.Error, "disk gone")
}

func TestSessionsHideNonces(t *testing.T) {
	e := &fakeEngine{suspended: []session.Entry{{
		Addr:       types.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		ID:         [types.SessionIDSize]byte{0xAB},
		LocalNonce: []byte("secret"),
		SSN:        3,
		Offset:     100,
		Timeout:    60,
	}}}
	r := NewRouter(Deps{Engine: e})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "nonce")

	var resp struct {
		Data []SuspendedSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "00:11:22:33:44:55", resp.Data[0].Peer)
	assert.Equal(t, "ab000000000000000000000000000000", resp.Data[0].SessionID)
	assert.Equal(t, uint32(100), resp.Data[0].Offset)
}

func TestConnectionsAndObjects(t *testing.T) {
	e := &fakeEngine{conns: []engine.ConnInfo{{Role: engine.RoleServer, Transport: "tcp", State: "connected"}}}
	store := inbox.NewStore(inbox.Limits{})
	require.NoError(t, store.Put("", inbox.Object{Name: "card.vcf", Data: []byte("x")}))
	r := NewRouter(Deps{Engine: e, Inbox: inbox.New(store, inbox.Options{})})

	var conns struct {
		Data []engine.ConnInfo `json:"data"`
	}
	assert.Equal(t, http.StatusOK, get(t, r, "/connections", &conns))
	require.Len(t, conns.Data, 1)
	assert.Equal(t, "connected", conns.Data[0].State)

	var objects struct {
		Data []inbox.Entry `json:"data"`
	}
	assert.Equal(t, http.StatusOK, get(t, r, "/objects", &objects))
	require.Len(t, objects.Data, 1)
	assert.Equal(t, "card.vcf", objects.Data[0].Name)

	e.err = types.ErrClosed
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/connections", nil))
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "obexd_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	NewRouter(Deps{Engine: &fakeEngine{}, Registry: reg}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "obexd_test_total 1")

	rec = httptest.NewRecorder()
	NewRouter(Deps{Engine: &fakeEngine{}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	s := NewServer(Config{Address: "127.0.0.1:0"}, Deps{Engine: &fakeEngine{}})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, s.Stop(context.Background()))
}
