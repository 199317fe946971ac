package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/status"
	"github.com/marmos91/obexd/pkg/config"
)

func TestSplitFolder(t *testing.T) {
	assert.Nil(t, splitFolder(""))
	assert.Equal(t, []string{"docs"}, splitFolder("docs"))
	assert.Equal(t, []string{"docs", "2026"}, splitFolder("/docs//2026/"))
	assert.Equal(t, []string{"..", "music"}, splitFolder("../music"))
}

func TestClientFlagsApply(t *testing.T) {
	cfg := config.GetDefaultConfig().Client
	f := clientFlags{address: "phone:650", target: "f9ec7bc4-953c-11d2-984e-525400dc9e09", noSRM: true, reliable: true}
	f.apply(&cfg)

	assert.Equal(t, "phone:650", cfg.Address)
	assert.Equal(t, "tcp", cfg.Transport)
	assert.False(t, cfg.SRM)
	assert.True(t, cfg.Reliable)
	target, err := cfg.TargetHeader()
	require.NoError(t, err)
	assert.Len(t, target, 16)

	creds := (&clientFlags{password: "0000"}).credentials()
	userID, pw, err := creds("realm", false)
	require.NoError(t, err)
	assert.Nil(t, userID)
	assert.Equal(t, []byte("0000"), pw)
}

func TestSessionListRows(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	l := sessionList{now: now, items: []status.SuspendedSession{{
		Peer:      "00:11:22:33:44:55",
		SessionID: "00112233445566778899aabbccddeeff",
		SSN:       3,
		Offset:    4096,
		LinkLost:  true,
		Expires:   now.Add(30 * time.Second),
	}}}

	require.Len(t, l.Rows(), 1)
	row := l.Rows()[0]
	assert.Len(t, row, len(l.Headers()))
	assert.Equal(t, "001122334455", row[1])
	assert.Equal(t, "4096", row[3])
	assert.Equal(t, "true", row[4])
}

type idleEngine struct{}

func (idleEngine) Do(context.Context, func() error) error { return nil }
func (idleEngine) Connections(context.Context) ([]engine.ConnInfo, error) {
	return nil, nil
}
func (idleEngine) Suspended(context.Context) ([]session.Entry, error) { return nil, nil }

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(status.NewRouter(status.Deps{Engine: idleEngine{}}))
	defer srv.Close()

	st := probe(context.Background(), srv.URL)
	assert.True(t, st.Running)
	assert.True(t, st.Healthy)
	assert.True(t, st.Ready)
	assert.NotEmpty(t, st.Uptime)

	var buf bytes.Buffer
	require.NoError(t, printStatusTable(&buf, st))
	assert.Contains(t, buf.String(), "Running")

	down := probe(context.Background(), "http://127.0.0.1:1")
	assert.False(t, down.Running)
	assert.Contains(t, down.Message, "not reachable")
}

func TestStatusBaseURL(t *testing.T) {
	cfg := config.GetDefaultConfig()
	assert.Equal(t, "http://127.0.0.1:8650", statusBaseURL(cfg))

	cfg.Status.BindAddress = "::"
	cfg.Status.Port = 9000
	assert.Equal(t, "http://127.0.0.1:9000", statusBaseURL(cfg))

	cfg.Status.BindAddress = "::1"
	assert.Equal(t, "http://[::1]:9000", statusBaseURL(cfg))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "obexd dev")
}
