// Package srm tracks Single Response Mode negotiation and flow control for
// one OBEX connection.
//
// SRM is requested by the party that starts a Put or Get by adding an SRM
// header with value Enable. The responder engages by answering Continue
// with SRM Enable. While engaged the sending side streams packets without
// waiting for a response to each one. Two flags bound the buffering:
//
//   - WaitPeer: the peer sent SRM-Parameters "wait" and the sender must hold
//     its next packet until a packet without the wait parameter arrives.
//   - WaitUpper: the engine handed a Continue to the application and holds
//     further traffic until the application supplies the next packet. The
//     application never owes more than one such credit.
//
// The mode disengages when the exchange completes with a final response
// other than Continue, or when it is aborted.
package srm

import (
	"strings"

	"github.com/marmos91/obexd/internal/obex/types"
)

// Flags is the SRM state bitset.
type Flags uint16

const (
	// Enable allows SRM on this connection.
	Enable Flags = 1 << iota
	// ParamAllowed allows the SRM-Parameters header.
	ParamAllowed
	// Requesting means an SRM Enable header went out and the answer is
	// pending.
	Requesting
	// Abort means an abort is in progress while engaged.
	Abort
	// Engaged means the current exchange streams.
	Engaged
	// Next means a packet is deferred until the transport drains.
	Next
	// WaitPeer means the peer asked us to wait.
	WaitPeer
	// WaitUpper means the application holds the single credit.
	WaitUpper
)

// persistent flags survive the end of an exchange.
const persistent = Enable | ParamAllowed

var flagNames = []struct {
	f    Flags
	name string
}{
	{Enable, "enable"},
	{ParamAllowed, "param"},
	{Requesting, "req"},
	{Abort, "abort"},
	{Engaged, "engaged"},
	{Next, "next"},
	{WaitPeer, "wait_peer"},
	{WaitUpper, "wait_upper"},
}

func (f Flags) String() string {
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Controller holds the SRM flags of one connection.
type Controller struct {
	flags Flags
}

// New creates a controller. When enabled is false SRM is never negotiated.
func New(enabled bool) *Controller {
	c := &Controller{}
	if enabled {
		c.flags = Enable | ParamAllowed
	}
	return c
}

func (c *Controller) Flags() Flags        { return c.flags }
func (c *Controller) Has(f Flags) bool    { return c.flags&f == f }
func (c *Controller) Enabled() bool       { return c.flags&Enable != 0 }
func (c *Controller) Engaged() bool       { return c.flags&Engaged != 0 }
func (c *Controller) WaitingPeer() bool   { return c.flags&WaitPeer != 0 }
func (c *Controller) WaitingUpper() bool  { return c.flags&WaitUpper != 0 }
func (c *Controller) SetDeferred(on bool) { c.set(Next, on) }
func (c *Controller) Aborting() bool      { return c.flags&Abort != 0 }
func (c *Controller) Requesting() bool    { return c.flags&Requesting != 0 }

func (c *Controller) set(f Flags, on bool) {
	if on {
		c.flags |= f
	} else {
		c.flags &^= f
	}
}

// Request is called by the side starting a Put or Get. It reports whether
// an SRM Enable header should be added to the outgoing packet.
func (c *Controller) Request() bool {
	if !c.Enabled() || c.Engaged() || c.Requesting() {
		return false
	}
	c.flags |= Requesting
	return true
}

// PeerRequested records the SRM header of an incoming request. It reports
// whether the response must carry SRM Enable to engage the mode.
func (c *Controller) PeerRequested(value uint8) bool {
	if !c.Enabled() || c.Engaged() || value != types.SRMEnable {
		return false
	}
	c.flags |= Requesting
	return true
}

// Confirm resolves a pending request with the status of the response and
// the SRM header it carried. It reports whether the mode is now engaged.
// The requester passes the peer's SRM header; the responder passes
// SRMEnable for the header it adds itself.
func (c *Controller) Confirm(status types.Status, srmValue uint8, present bool) bool {
	if !c.Requesting() {
		return c.Engaged()
	}
	c.flags &^= Requesting
	if status.Class() == types.ClassContinue && present && srmValue == types.SRMEnable {
		c.flags |= Engaged
	}
	return c.Engaged()
}

// Observe feeds the status of every response while an exchange is in
// progress. A final response other than Continue ends the mode.
func (c *Controller) Observe(status types.Status) {
	if status.Class() != types.ClassContinue {
		c.Reset()
	}
}

// Param records the SRM-Parameters header of an incoming packet.
func (c *Controller) Param(value uint8, present bool) {
	if c.flags&ParamAllowed == 0 {
		return
	}
	c.set(WaitPeer, present && value == types.SRMParamWait)
}

// BeginAbort marks an abort in progress.
func (c *Controller) BeginAbort() {
	if c.Engaged() {
		c.flags |= Abort
	}
}

// Grant hands the single upper layer credit to the application. It reports
// false if the credit is already out.
func (c *Controller) Grant() bool {
	if c.WaitingUpper() {
		return false
	}
	c.flags |= WaitUpper
	return true
}

// Consume takes the credit back when the application supplies the next
// packet.
func (c *Controller) Consume() bool {
	if !c.WaitingUpper() {
		return false
	}
	c.flags &^= WaitUpper
	return true
}

// Reset ends the current exchange, keeping only the connection level
// enable flags.
func (c *Controller) Reset() {
	c.flags &= persistent
}

// Restore reinstates flags saved when a session was suspended.
func (c *Controller) Restore(f Flags) {
	c.flags = f &^ (Requesting | Next | WaitUpper)
}
