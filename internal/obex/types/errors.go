package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Engine API errors. Protocol failures are reported as Status values in
// events; these errors describe problems with a call itself.
var (
	// ErrBadParameters indicates malformed caller input.
	ErrBadParameters = errors.New("obex: bad parameters")

	// ErrNoResources indicates buffer or control block exhaustion.
	ErrNoResources = errors.New("obex: no resources")

	// ErrBadHandle indicates an unknown or stale connection handle.
	ErrBadHandle = errors.New("obex: bad handle")

	// ErrWrongState indicates the call is not allowed in the current state.
	ErrWrongState = errors.New("obex: operation not allowed in current state")

	// ErrBusy indicates another request is already pending.
	ErrBusy = errors.New("obex: request already pending")

	// ErrClosed indicates the engine or connection has shut down.
	ErrClosed = errors.New("obex: closed")
)

// BDAddr is a 6-byte Bluetooth device address, or more generally the opaque
// address bytes a transport reports for a peer.
type BDAddr [6]byte

// ParseBDAddr parses the colon separated form "00:11:22:33:44:55".
func ParseBDAddr(s string) (BDAddr, error) {
	var a BDAddr
	parts := strings.Split(s, ":")
	if len(parts) != len(a) {
		return a, fmt.Errorf("%w: address %q", ErrBadParameters, s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return a, fmt.Errorf("%w: address %q", ErrBadParameters, s)
		}
		a[i] = b[0]
	}
	return a, nil
}

func (a BDAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is unset.
func (a BDAddr) IsZero() bool { return a == BDAddr{} }

// MarshalText encodes the address in its colon separated form.
func (a BDAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *BDAddr) UnmarshalText(b []byte) error {
	v, err := ParseBDAddr(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
