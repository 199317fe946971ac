package header

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

func TestRoundTrip(t *testing.T) {
	name, err := Unicode(types.HdrName, "photo-été.jpg")
	require.NoError(t, err)
	emptyName, err := Unicode(types.HdrName, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		h    Header
		size int
	}{
		{"Byte", Uint8(types.HdrSRM, types.SRMEnable), 2},
		{"Uint32", Uint32(types.HdrConnectionID, 0xDEADBEEF), 5},
		{"Bytes", Bytes(types.HdrType, []byte("text/x-vcard\x00")), 3 + 13},
		{"EmptyBytes", Bytes(types.HdrEndOfBody, nil), 3},
		{"Unicode", name, 3 + 2*13 + 2},
		{"EmptyUnicode", emptyName, 3},
		{"LargeBody", Bytes(types.HdrBody, []byte(strings.Repeat("x", 4000))), 4003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := packet.New(8192)
			defer p.Release()

			require.NoError(t, Encode(p, tt.h))
			assert.Equal(t, tt.size, p.Len())

			got, ok := Find(p, tt.h.ID)
			require.True(t, ok)
			assert.Equal(t, tt.h.ID, got.ID)
			assert.Equal(t, len(tt.h.Value), len(got.Value))
			if len(tt.h.Value) > 0 {
				assert.Equal(t, tt.h.Value, got.Value)
			}
		})
	}
}

func TestUnicodeDecode(t *testing.T) {
	h, err := Unicode(types.HdrName, "telecom/pb.vcf")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 't', 0x00, 'e'}, h.Value[:4])
	assert.Equal(t, []byte{0, 0}, h.Value[len(h.Value)-2:])

	s, err := h.AsString()
	require.NoError(t, err)
	assert.Equal(t, "telecom/pb.vcf", s)

	_, err = Header{ID: types.HdrName, Value: []byte{0x00}}.AsString()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeNeverPartiallyWrites(t *testing.T) {
	p := packet.NewWithHeadroom(10, 0)
	defer p.Release()

	require.NoError(t, Encode(p, Uint32(types.HdrConnectionID, 1)))
	err := Encode(p, Bytes(types.HdrBody, []byte("abc")))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 5, p.Len())

	err = EncodeAll(p, Uint8(types.HdrSRM, 1), Uint32(types.HdrCount, 2))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 5, p.Len(), "EncodeAll must roll back")
}

func TestEncodeRejectsBadValues(t *testing.T) {
	p := packet.New(64)
	defer p.Release()
	assert.ErrorIs(t, Encode(p, Header{ID: types.HdrSRM, Value: []byte{1, 2}}), ErrBadValue)
	assert.ErrorIs(t, Encode(p, Header{ID: types.HdrCount, Value: []byte{1}}), ErrBadValue)
	assert.Zero(t, p.Len())
}

func TestFindHonoursHeadersStart(t *testing.T) {
	// A Connect packet whose fixed fields look like a Name header must not
	// be mistaken for one.
	wire := []byte{0x80, 0x00, 0x0C, 0x10, 0x00, 0x01, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x07}
	p, err := packet.FromWire(wire)
	require.NoError(t, err)
	defer p.Release()

	id, ok := FindUint32(p, types.HdrConnectionID)
	require.True(t, ok)
	assert.Equal(t, uint32(7), id)
	assert.False(t, Has(p, types.HdrName))
}

func TestCursorRepeatingHeaders(t *testing.T) {
	p := packet.New(128)
	defer p.Release()
	require.NoError(t, EncodeAll(p,
		Bytes(types.HdrBody, []byte("AB")),
		Uint8(types.HdrSRM, 1),
		Bytes(types.HdrBody, []byte("CD")),
	))

	c := NewCursor(p)
	var bodies []string
	for {
		h, ok := c.NextID(types.HdrBody)
		if !ok {
			break
		}
		bodies = append(bodies, string(h.Value))
	}
	assert.Equal(t, []string{"AB", "CD"}, bodies)
	assert.NoError(t, c.Err())
}

func TestReadBody(t *testing.T) {
	p := packet.New(64)
	defer p.Release()
	_, _, ok := ReadBody(p)
	assert.False(t, ok)

	require.NoError(t, Encode(p, Bytes(types.HdrEndOfBody, []byte("tail"))))
	body, end, ok := ReadBody(p)
	assert.True(t, ok)
	assert.True(t, end)
	assert.Equal(t, "tail", string(body))
}

func TestValidateRejectsOverrun(t *testing.T) {
	// Body header claims 0x20 bytes but the packet ends after 5.
	p, err := packet.FromWire([]byte{0x02, 0x00, 0x08, 0x48, 0x00, 0x20, 'x', 'y'})
	require.NoError(t, err)
	defer p.Release()

	assert.ErrorIs(t, Validate(p), ErrMalformed)
	_, ok := Find(p, types.HdrBody)
	assert.False(t, ok)

	_, err = Parse([]byte{0x48, 0x00, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRemove(t *testing.T) {
	p := packet.New(128)
	defer p.Release()
	require.NoError(t, EncodeAll(p,
		Uint32(types.HdrConnectionID, 9),
		Bytes(types.HdrAuthResponse, []byte{1, 2, 3}),
		Uint8(types.HdrSRM, 1),
	))
	require.NoError(t, p.Frame(uint8(types.OpPutFinal)))

	assert.Equal(t, 1, Remove(p, types.HdrAuthResponse))
	hs, err := Parse(p.Headers())
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, types.HdrConnectionID, hs[0].ID)
	assert.Equal(t, types.HdrSRM, hs[1].ID)
	assert.Equal(t, 3+5+2, p.Len())
	assert.Equal(t, []byte{0x00, 0x0A}, p.Bytes()[1:3])
}

func TestTripletRoundTrip(t *testing.T) {
	in := TripletSet{
		{Tag: types.ChallengeTagNonce, Value: []byte("0123456789abcdef")},
		{Tag: types.ChallengeTagOptions, Value: []byte{types.ChallengeOptUserID}},
		{Tag: types.ChallengeTagRealm, Value: []byte{0x00, 'h', 'o', 'm', 'e'}},
		{Tag: 0x07, Value: []byte{}},
		Uint32Triplet(uint8(types.SessTagTimeout), 600),
	}

	h, err := Triplets(types.HdrAuthChallenge, in)
	require.NoError(t, err)

	p := packet.New(255)
	defer p.Release()
	require.NoError(t, Encode(p, h))

	out, err := ReadTripletSet(p, types.HdrAuthChallenge)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out, cmp.Comparer(func(a, b []byte) bool { return string(a) == string(b) })); diff != "" {
		t.Errorf("triplets mismatch (-want +got):\n%s", diff)
	}

	timeout, ok := out.GetUint32(uint8(types.SessTagTimeout))
	assert.True(t, ok)
	assert.Equal(t, uint32(600), timeout)
	opts, ok := out.GetUint8(types.ChallengeTagOptions)
	assert.True(t, ok)
	assert.Equal(t, types.ChallengeOptUserID, opts)

	_, err = ReadTripletSet(p, types.HdrAuthResponse)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTripletErrors(t *testing.T) {
	_, err := EncodeTriplets(TripletSet{{Tag: 1, Value: make([]byte, 256)}})
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = ParseTriplets([]byte{0x00, 0x05, 'a'})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Triplets(types.HdrConnectionID, nil)
	assert.ErrorIs(t, err, ErrBadValue)
}
