package digest

import (
	"crypto/md5"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDigestMatchesDefinition(t *testing.T) {
	nonce := []byte("0123456789ABCDEF")
	got := Digest(nonce, []byte("secret"))
	want := md5.Sum([]byte("0123456789ABCDEF:secret"))
	assert.Equal(t, want, got)
}

func TestDigestKnownVector(t *testing.T) {
	// md5("abc:") computed independently.
	got := Digest([]byte("abc"), nil)
	assert.Equal(t, "493e283d571a73056196f1a68efd0f66", hex.EncodeToString(got[:]))
}

func TestSessionIDDeterminism(t *testing.T) {
	clientAddr := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverAddr := []byte{0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB}
	clientNonce := []byte("client-nonce-123")
	serverNonce := []byte("server-nonce-456")

	onClient := SessionID(clientAddr, clientNonce, serverAddr, serverNonce)
	onServer := SessionID(clientAddr, clientNonce, serverAddr, serverNonce)
	assert.Equal(t, onClient, onServer)

	inputs := [][]byte{clientAddr, clientNonce, serverAddr, serverNonce}
	for i := range inputs {
		for j := range inputs[i] {
			mutated := make([][]byte, len(inputs))
			for k := range inputs {
				mutated[k] = append([]byte(nil), inputs[k]...)
			}
			mutated[i][j] ^= 0x01
			other := SessionID(mutated[0], mutated[1], mutated[2], mutated[3])
			assert.NotEqual(t, onClient, other, "input %d byte %d", i, j)
		}
	}
}

func TestNonceSourceUnique(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	s := NewNonceSourceWithClock(func() time.Time { return fixed })

	seen := make(map[[16]byte]bool)
	for i := 0; i < 1000; i++ {
		n := s.Nonce()
		assert.False(t, seen[n], "nonce repeated at %d", i)
		seen[n] = true
	}
}
