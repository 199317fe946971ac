package logger

import (
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so logs from the client and server roles can
// be correlated by peer, connection and session.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Connection identity
	// ========================================================================
	KeyRole         = "role"          // client or server
	KeyHandle       = "handle"        // engine handle of the connection
	KeyPeer         = "peer"          // peer device address
	KeyTransport    = "transport"     // loopback, stream, rfcomm
	KeyConnectionID = "connection_id" // OBEX Connection-ID
	KeyTarget       = "target"        // Target / Who header (hex)
	KeyMTU          = "mtu"           // negotiated maximum packet length

	// ========================================================================
	// Protocol state
	// ========================================================================
	KeyState     = "state"      // state machine state
	KeyNextState = "next_state" // state after a transition
	KeyEvent     = "event"      // state machine event
	KeyOpcode    = "opcode"     // request opcode
	KeyStatus    = "status"     // response code
	KeyFinal     = "final"      // final bit of a request
	KeySRM       = "srm"        // SRM flags

	// ========================================================================
	// Reliable sessions
	// ========================================================================
	KeySessionID = "session_id"
	KeySessionOp = "session_op"
	KeySSN       = "ssn"
	KeyOffset    = "offset"
	KeyTimeout   = "timeout"

	// ========================================================================
	// Objects
	// ========================================================================
	KeyName   = "name"
	KeyType   = "type"
	KeyBytes  = "bytes"
	KeyLength = "length"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyComponent  = "component"
	KeyAddress    = "address"
)

// ============================================================================
// Field constructors
// ============================================================================

// Peer returns a slog.Attr for a peer address.
func Peer(addr fmt.Stringer) slog.Attr {
	return slog.String(KeyPeer, addr.String())
}

// State returns a slog.Attr for a state machine state.
func State(s fmt.Stringer) slog.Attr {
	return slog.String(KeyState, s.String())
}

// Event returns a slog.Attr for a state machine event.
func Event(e fmt.Stringer) slog.Attr {
	return slog.String(KeyEvent, e.String())
}

// Opcode returns a slog.Attr for a request opcode.
func Opcode(op fmt.Stringer) slog.Attr {
	return slog.String(KeyOpcode, op.String())
}

// Status returns a slog.Attr for a response code.
func Status(st fmt.Stringer) slog.Attr {
	return slog.String(KeyStatus, st.String())
}

// ConnectionID returns a slog.Attr for an OBEX Connection-ID.
func ConnectionID(id uint32) slog.Attr {
	return slog.String(KeyConnectionID, fmt.Sprintf("0x%08X", id))
}

// SessionID returns a slog.Attr for a reliable session ID.
func SessionID(id []byte) slog.Attr {
	return slog.String(KeySessionID, hex.EncodeToString(id))
}

// Target returns a slog.Attr for a Target or Who header value.
func Target(t []byte) slog.Attr {
	return slog.String(KeyTarget, hex.EncodeToString(t))
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
