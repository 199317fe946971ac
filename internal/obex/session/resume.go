package session

import (
	"encoding/hex"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/digest"
	"github.com/marmos91/obexd/internal/obex/types"
)

// DeriveID computes the session ID. The client's address and nonce always
// come first, whichever role computes it.
func DeriveID(clientAddr types.BDAddr, clientNonce []byte, serverAddr types.BDAddr, serverNonce []byte) [types.SessionIDSize]byte {
	return digest.SessionID(clientAddr[:], clientNonce, serverAddr[:], serverNonce)
}

// VerifyResume checks a resume request against a stored entry held by the
// server: the claimed ID must match both the entry and the ID re-derived
// from the client's nonce and the stored server nonce.
func VerifyResume(e Entry, serverAddr types.BDAddr, p Params) error {
	if len(p.ID) != types.SessionIDSize {
		return fmt.Errorf("%w: missing session ID", ErrBadParams)
	}
	var claimed [types.SessionIDSize]byte
	copy(claimed[:], p.ID)
	if claimed != e.ID {
		return ErrIDMismatch
	}
	if DeriveID(e.Addr, p.Nonce, serverAddr, e.LocalNonce) != e.ID {
		return ErrIDMismatch
	}
	return nil
}

// AddrFromBytes converts a device address triplet value.
func AddrFromBytes(b []byte) (types.BDAddr, error) {
	var a types.BDAddr
	if len(b) != len(a) {
		return a, fmt.Errorf("%w: device address of %d bytes", ErrBadParams, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func sessionIDString(id [types.SessionIDSize]byte) string {
	return hex.EncodeToString(id[:])
}
