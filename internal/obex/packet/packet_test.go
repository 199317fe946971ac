package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/types"
)

func assertInvariant(t *testing.T, p *Packet) {
	t.Helper()
	assert.Equal(t, p.Total(), p.Front()+p.Len()+p.Cap(), "offset+length+capacity must equal total")
}

func TestNewReservesHeadroom(t *testing.T) {
	p := New(255)
	defer p.Release()

	assert.Equal(t, Headroom, p.Front())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 255-Headroom, p.Cap())
	assertInvariant(t, p)
}

func TestAppendAndReserveFront(t *testing.T) {
	p := New(64)
	defer p.Release()

	require.NoError(t, p.Append([]byte{0x48, 0x00, 0x05, 'A', 'B'}))
	assertInvariant(t, p)

	front, err := p.ReserveFront(5)
	require.NoError(t, err)
	copy(front, []byte{0xCB, 0, 0, 0, 1})
	assertInvariant(t, p)

	require.NoError(t, p.Frame(uint8(types.OpPutFinal)))
	assertInvariant(t, p)

	want := []byte{0x82, 0x00, 0x0D, 0xCB, 0, 0, 0, 1, 0x48, 0x00, 0x05, 'A', 'B'}
	assert.Equal(t, want, p.Bytes())
	assert.Equal(t, uint8(0x82), p.Code())
	assert.Equal(t, want[3:], p.Headers())
}

func TestOverflowWritesNothing(t *testing.T) {
	p := NewWithHeadroom(8, 2)
	defer p.Release()

	require.NoError(t, p.Append([]byte{1, 2, 3, 4}))
	err := p.Append([]byte{5, 6, 7})
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Bytes())

	_, err = p.ReserveFront(3)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 2, p.Front())
	assertInvariant(t, p)
}

func TestConnectFrame(t *testing.T) {
	p := New(255)
	defer p.Release()
	p.SetKind(types.RequestKind(types.OpConnect))

	require.NoError(t, p.Frame(uint8(types.OpConnect), types.Version, 0, 0x00, 0xFF))
	assert.Equal(t, []byte{0x80, 0x00, 0x07, 0x10, 0x00, 0x00, 0xFF}, p.Bytes())
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0xFF}, p.Fixed())
	assert.Empty(t, p.Headers())

	assert.Error(t, p.Frame(uint8(types.OpConnect)), "framing twice must fail")
}

func TestConsumeAndGrow(t *testing.T) {
	p := New(40)
	defer p.Release()
	require.NoError(t, p.Append([]byte("abcdef")))

	p.Consume(2)
	assert.Equal(t, []byte("cdef"), p.Bytes())
	assertInvariant(t, p)

	p.Grow(100)
	assert.GreaterOrEqual(t, p.Cap(), 100)
	assert.Equal(t, []byte("cdef"), p.Bytes())
	assertInvariant(t, p)
}

func TestCloneIsIndependent(t *testing.T) {
	p := New(40)
	require.NoError(t, p.Append([]byte("xyz")))
	c := p.Clone()
	p.Bytes()[0] = 'Q'
	p.Release()

	assert.Equal(t, []byte("xyz"), c.Bytes())
	assert.Equal(t, Headroom, c.Front())
	c.Release()
	c.Release()
}

func TestFromWire(t *testing.T) {
	p, err := FromWire([]byte{0x02, 0x00, 0x07, 0xC3, 0x00, 0x01})
	require.Error(t, err, "length mismatch")
	assert.Nil(t, p)

	p, err = FromWire([]byte{0x81, 0x00, 0x03})
	require.NoError(t, err)
	assert.Equal(t, types.RequestKind(types.OpDisconnect), p.Kind())
	assert.True(t, p.Framed())

	_, err = FromWire([]byte{0x81, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReassemblerChunking(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 30)
	wire := make([]byte, 0, 3+len(body))
	wire = append(wire, 0x82, byte((3+len(body))>>8), byte(3+len(body)))
	wire = append(wire, body...)

	for _, chunk := range []int{1, 7, 64, len(wire)} {
		r := NewReassembler(0)
		var got []*Packet
		for off := 0; off < len(wire); off += chunk {
			end := min(off+chunk, len(wire))
			pkts, err := r.Feed(wire[off:end])
			require.NoError(t, err)
			got = append(got, pkts...)
		}
		require.Len(t, got, 1, "chunk size %d", chunk)
		assert.Equal(t, wire, got[0].Bytes(), "chunk size %d", chunk)
		assert.Zero(t, r.Pending())
		got[0].Release()
	}
}

func TestReassemblerMultiplePackets(t *testing.T) {
	r := NewReassembler(255)
	pkts, err := r.Feed([]byte{0xA0, 0x00, 0x03, 0x90, 0x00, 0x03, 0xA0})
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Equal(t, uint8(0xA0), pkts[0].Code())
	assert.Equal(t, uint8(0x90), pkts[1].Code())
	assert.Equal(t, 1, r.Pending())

	_, err = r.Feed([]byte{0x01, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Zero(t, r.Pending())
}
