// Package event defines the notifications the OBEX engine delivers to the
// application. A client receives confirmations of its requests; a server
// receives indications of the peer's requests and answers them through the
// server API.
package event

import (
	"fmt"

	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Kind is the type of an event.
type Kind uint8

const (
	Connect Kind = iota + 1
	Session
	Put
	Get
	SetPath
	Action
	Abort
	Disconnect
	// PasswordRequired asks the application for credentials. On a client it
	// follows an Unauthorized response carrying a challenge; on a server it
	// follows a request carrying an authentication response when no static
	// password is configured.
	PasswordRequired
	// Progress reports object bytes moved by a Put or Get.
	Progress
	// Close reports the end of the connection. It is delivered exactly once
	// per connection lifetime.
	Close
	// Timeout reports that the peer did not answer in time.
	Timeout
)

var kindNames = map[Kind]string{
	Connect:          "connect",
	Session:          "session",
	Put:              "put",
	Get:              "get",
	SetPath:          "setpath",
	Action:           "action",
	Abort:            "abort",
	Disconnect:       "disconnect",
	PasswordRequired: "password_required",
	Progress:         "progress",
	Close:            "close",
	Timeout:          "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind

	// Indication is true for a server side indication of a peer request
	// and false for a client side confirmation.
	Indication bool

	// Status is the response code of a confirmation.
	Status types.Status

	// Final is the final bit of an indicated request.
	Final bool

	// Packet carries the received packet. Ownership passes to the
	// application, which must Release it.
	Packet *packet.Packet

	// MTU is the peer's maximum packet length (Connect).
	MTU uint16

	// SetPathFlags carries the flags of a SetPath indication.
	SetPathFlags uint8

	// ActionID carries the action of an Action indication.
	ActionID types.ActionID

	// SessionOp, SSN and Offset describe Session events.
	SessionOp types.SessionOp
	SSN       uint8
	Offset    uint32

	// Realm, UserIDRequired and UserID describe PasswordRequired events.
	Realm          []byte
	UserIDRequired bool
	UserID         []byte

	// Delete and CreateEmpty classify Put indications: a Put without any
	// body header deletes the object, a Put whose only body is an empty
	// End-of-Body creates an empty object.
	Delete      bool
	CreateEmpty bool

	// Bytes counts object bytes for Progress events.
	Bytes int

	// Err describes the cause of Close and Timeout events.
	Err error
}

func (e Event) String() string {
	switch {
	case e.Kind == Close || e.Kind == Timeout:
		return fmt.Sprintf("%s(err=%v)", e.Kind, e.Err)
	case e.Indication:
		return fmt.Sprintf("%s_ind(final=%v)", e.Kind, e.Final)
	default:
		return fmt.Sprintf("%s_cfm(%s)", e.Kind, e.Status)
	}
}

// Release frees the packet the event carries, if any.
func (e *Event) Release() {
	if e.Packet != nil {
		e.Packet.Release()
		e.Packet = nil
	}
}

// Sink receives events. Implementations must not block: the engine calls
// Sink from its event loop.
type Sink func(Event)

// Recorder is a Sink that keeps every event, for tests and tools.
type Recorder struct {
	Events []Event
}

// Sink returns a Sink appending to the recorder.
func (r *Recorder) Sink() Sink {
	return func(e Event) { r.Events = append(r.Events, e) }
}

// Kinds lists the kinds received so far.
func (r *Recorder) Kinds() []Kind {
	out := make([]Kind, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Kind
	}
	return out
}

// Last returns the most recent event of the kind.
func (r *Recorder) Last(k Kind) (Event, bool) {
	for i := len(r.Events) - 1; i >= 0; i-- {
		if r.Events[i].Kind == k {
			return r.Events[i], true
		}
	}
	return Event{}, false
}

// Count returns how many events of the kind were received.
func (r *Recorder) Count(k Kind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Reset releases recorded packets and clears the recorder.
func (r *Recorder) Reset() {
	for i := range r.Events {
		r.Events[i].Release()
	}
	r.Events = nil
}
