package session

import (
	"errors"

	"github.com/marmos91/obexd/internal/obex/srm"
)

// ErrSequence is returned for a request whose session sequence number is
// neither the expected one nor a tolerated retransmission.
var ErrSequence = errors.New("session: sequence number mismatch")

// SequenceValidation is the result of checking an incoming SSN.
type SequenceValidation int

const (
	// SeqNew is the expected sequence number.
	SeqNew SequenceValidation = iota
	// SeqRetry is one behind the expected number right after a link-drop
	// suspend: the peer is resending a request whose response was lost.
	SeqRetry
	// SeqMisordered is a protocol error.
	SeqMisordered
)

func (v SequenceValidation) String() string {
	switch v {
	case SeqNew:
		return "new"
	case SeqRetry:
		return "retry"
	default:
		return "misordered"
	}
}

// ValidateSequence checks an incoming SSN against the expected one. The
// counter is 8 bits wide and wraps.
func ValidateSequence(expected, got uint8, dropSuspended bool) SequenceValidation {
	switch {
	case got == expected:
		return SeqNew
	case dropSuspended && got == expected-1:
		return SeqRetry
	default:
		return SeqMisordered
	}
}

// Progress is the position of a transfer within a session.
type Progress struct {
	SSN    uint8
	Offset uint32
}

// Reconcile decides where a resumed transfer continues. saved holds the SRM
// flags captured at suspend time. Without an engaged SRM exchange the
// responder's stored progress always stands. With one, a request that is
// behind the responder wins so no byte is skipped, and equal offsets keep
// the request.
func Reconcile(stored, requested Progress, saved srm.Flags) Progress {
	if saved&srm.Engaged == 0 {
		return stored
	}
	if requested.Offset <= stored.Offset {
		return requested
	}
	return stored
}
