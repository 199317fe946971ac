package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/transport/loopback"
	"github.com/marmos91/obexd/internal/obex/types"
)

func bodyPacket(t *testing.T, body []byte) *packet.Packet {
	t.Helper()
	p := packet.New(1024)
	require.NoError(t, header.Encode(p, header.Bytes(types.HdrEndOfBody, body)))
	require.NoError(t, p.Frame(uint8(types.OpPutFinal)))
	return p
}

// Sending a packet in window sized pieces reassembles to the same bytes as
// sending it whole.
func TestFragmentedSendReassemblesIdentically(t *testing.T) {
	body := make([]byte, 300)
	for i := range body {
		body[i] = byte(i)
	}
	want := bodyPacket(t, body)
	wantBytes := append([]byte(nil), want.Bytes()...)
	want.Release()

	for _, window := range []int{0, 1, 7, 64, 512} {
		pair := loopback.NewPair(loopback.Options{Window: window})
		sender := New(pair.A, 1024)
		receiver := New(pair.B, 1024)

		var got [][]byte
		pair.B.Start(transport.HandlerFuncs{Data: func(b []byte) {
			pkts, err := receiver.Feed(b)
			require.NoError(t, err)
			for _, p := range pkts {
				got = append(got, append([]byte(nil), p.Bytes()...))
				p.Release()
			}
		}})
		pair.A.Start(transport.HandlerFuncs{TxEmpty: func() {
			_, err := sender.Resume()
			require.NoError(t, err)
		}})

		complete, err := sender.Send(bodyPacket(t, body))
		require.NoError(t, err)
		assert.Equal(t, window == 0 || window >= len(wantBytes), complete)

		pair.Pump()
		assert.Zero(t, sender.Pending(), "window %d", window)
		require.Len(t, got, 1, "window %d", window)
		assert.Equal(t, wantBytes, got[0], "window %d", window)
	}
}

func TestSendWhilePendingFails(t *testing.T) {
	pair := loopback.NewPair(loopback.Options{Window: 4})
	l := New(pair.A, 1024)

	complete, err := l.Send(bodyPacket(t, []byte("hello")))
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = l.Send(bodyPacket(t, []byte("x")))
	assert.Error(t, err)
}
