// Package digest computes the MD5 values OBEX uses for authentication
// digests, nonces and reliable session identifiers.
package digest

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/marmos91/obexd/internal/obex/types"
)

// Size is the length of every value produced by this package.
const Size = md5.Size

// Digest computes the authentication response for a challenge nonce:
// MD5(nonce ":" password).
func Digest(nonce []byte, password []byte) [Size]byte {
	h := md5.New()
	h.Write(nonce)
	h.Write([]byte{':'})
	h.Write(password)
	var out [Size]byte
	h.Sum(out[:0])
	return out
}

// SessionID derives a reliable session identifier:
// MD5(clientAddr clientNonce serverAddr serverNonce).
// Both peers compute it from the same inputs in the same order, so the
// argument order is always client first regardless of the caller's role.
func SessionID(clientAddr, clientNonce, serverAddr, serverNonce []byte) [types.SessionIDSize]byte {
	h := md5.New()
	h.Write(clientAddr)
	h.Write(clientNonce)
	h.Write(serverAddr)
	h.Write(serverNonce)
	var out [types.SessionIDSize]byte
	h.Sum(out[:0])
	return out
}

// NonceSource generates nonces for challenges and session creation. Every
// nonce mixes a counter, the current time and random bytes, so two nonces
// from one source never repeat even when the random source is weak.
type NonceSource struct {
	mu      sync.Mutex
	counter uint32
	now     func() time.Time
	seed    [8]byte
}

// NewNonceSource creates a NonceSource using the wall clock.
func NewNonceSource() *NonceSource {
	return NewNonceSourceWithClock(time.Now)
}

// NewNonceSourceWithClock creates a NonceSource with an injected clock.
func NewNonceSourceWithClock(now func() time.Time) *NonceSource {
	s := &NonceSource{now: now}
	_, _ = rand.Read(s.seed[:])
	return s
}

// Nonce returns a fresh 16-byte nonce.
func (s *NonceSource) Nonce() [types.NonceSize]byte {
	s.mu.Lock()
	s.counter++
	counter := s.counter
	s.mu.Unlock()

	var buf [8 + 8 + 4 + 16]byte
	copy(buf[:8], s.seed[:])
	binary.BigEndian.PutUint64(buf[8:16], uint64(s.now().UnixNano()))
	binary.BigEndian.PutUint32(buf[16:20], counter)
	_, _ = rand.Read(buf[20:])
	return md5.Sum(buf[:])
}
