// Package session implements OBEX reliable sessions: creation and session
// ID derivation, suspend and resume across transport loss, and the bounded
// table of suspended sessions a server keeps for peers that may come back.
package session

import (
	"fmt"

	"github.com/marmos91/obexd/internal/obex/srm"
	"github.com/marmos91/obexd/internal/obex/types"
)

// State is the reliable session state of a connection.
type State uint8

const (
	StateNone State = iota
	StateCreate
	StateActive
	StateSuspend
	StateSuspended
	StateResume
	StateClose
	// StateTimeout means a set-timeout exchange is in flight.
	StateTimeout
)

var stateNames = [...]string{
	StateNone:      "none",
	StateCreate:    "create",
	StateActive:    "active",
	StateSuspend:   "suspend",
	StateSuspended: "suspended",
	StateResume:    "resume",
	StateClose:     "close",
	StateTimeout:   "timeout",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Pending returns the state a session request puts the requester in while
// the response is outstanding.
func Pending(op types.SessionOp) State {
	switch op {
	case types.SessOpCreate:
		return StateCreate
	case types.SessOpClose:
		return StateClose
	case types.SessOpSuspend:
		return StateSuspend
	case types.SessOpResume:
		return StateResume
	default:
		return StateTimeout
	}
}

// Saved is the connection state captured at suspend time and reinstated on
// resume.
type Saved struct {
	State        uint8     `json:"state"`
	SRM          srm.Flags `json:"srm"`
	ConnectionID uint32    `json:"connection_id"`
	MTU          uint16    `json:"mtu"`
}

// Info is the reliable session block of one connection.
type Info struct {
	State State

	ID         [types.SessionIDSize]byte
	LocalNonce []byte
	PeerNonce  []byte
	LocalAddr  types.BDAddr
	PeerAddr   types.BDAddr

	// SSN is the sequence number of the next request.
	SSN uint8
	// Offset counts object bytes transferred in the current operation.
	Offset uint32
	// Timeout is the negotiated suspend timeout in seconds.
	Timeout uint32

	// DropSuspended is set when the session was suspended by a transport
	// failure rather than an explicit request.
	DropSuspended bool

	Saved Saved
}

// Active reports whether requests carry session sequence numbers.
func (i Info) Active() bool { return i.State == StateActive }

// Established reports whether the session has an ID, whatever its state.
func (i *Info) Established() bool { return i.ID != [types.SessionIDSize]byte{} }

// Reset returns the block to StateNone.
func (i *Info) Reset() {
	*i = Info{LocalAddr: i.LocalAddr, PeerAddr: i.PeerAddr}
}

// Entry captures the block for the suspended table.
func (i *Info) Entry() Entry {
	return Entry{
		Addr:          i.PeerAddr,
		ID:            i.ID,
		LocalNonce:    append([]byte(nil), i.LocalNonce...),
		PeerNonce:     append([]byte(nil), i.PeerNonce...),
		SSN:           i.SSN,
		Offset:        i.Offset,
		Timeout:       i.Timeout,
		DropSuspended: i.DropSuspended,
		Saved:         i.Saved,
	}
}

// FromEntry reinstates a suspended entry.
func (i *Info) FromEntry(e Entry) {
	i.ID = e.ID
	i.PeerAddr = e.Addr
	i.LocalNonce = append([]byte(nil), e.LocalNonce...)
	i.PeerNonce = append([]byte(nil), e.PeerNonce...)
	i.SSN = e.SSN
	i.Offset = e.Offset
	i.Timeout = e.Timeout
	i.DropSuspended = e.DropSuspended
	i.Saved = e.Saved
}
