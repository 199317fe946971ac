package session

import (
	"errors"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

const (
	MinNonceSize = 4
	MaxNonceSize = 16
)

// ErrBadParams is returned for Session-Parameters that are missing a
// mandatory triplet or carry one of the wrong size.
var ErrBadParams = errors.New("session: bad session parameters")

// Params is the decoded content of a Session-Parameters header.
type Params struct {
	Op    types.SessionOp
	HasOp bool

	Addr  []byte
	Nonce []byte
	ID    []byte

	NextSeq    uint8
	HasNextSeq bool

	Timeout    uint32
	HasTimeout bool

	Offset    uint32
	HasOffset bool
}

// Header encodes the parameters.
func (p Params) Header() (header.Header, error) {
	var ts header.TripletSet
	if p.HasOp {
		ts = append(ts, header.Triplet{Tag: uint8(types.SessTagOpcode), Value: []byte{uint8(p.Op)}})
	}
	if len(p.Addr) > 0 {
		ts = append(ts, header.Triplet{Tag: uint8(types.SessTagAddr), Value: p.Addr})
	}
	if len(p.Nonce) > 0 {
		ts = append(ts, header.Triplet{Tag: uint8(types.SessTagNonce), Value: p.Nonce})
	}
	if len(p.ID) > 0 {
		ts = append(ts, header.Triplet{Tag: uint8(types.SessTagID), Value: p.ID})
	}
	if p.HasNextSeq {
		ts = append(ts, header.Triplet{Tag: uint8(types.SessTagNextSeq), Value: []byte{p.NextSeq}})
	}
	if p.HasTimeout {
		ts = append(ts, header.Uint32Triplet(uint8(types.SessTagTimeout), p.Timeout))
	}
	if p.HasOffset {
		ts = append(ts, header.Uint32Triplet(uint8(types.SessTagObjOffset), p.Offset))
	}
	return header.Triplets(types.HdrSessionParams, ts)
}

// ParseParams decodes Session-Parameters triplets.
func ParseParams(ts header.TripletSet) (Params, error) {
	var p Params
	if op, ok := ts.GetUint8(uint8(types.SessTagOpcode)); ok {
		p.Op, p.HasOp = types.SessionOp(op), true
	}
	if v, ok := ts.Get(uint8(types.SessTagAddr)); ok {
		p.Addr = append([]byte(nil), v...)
	}
	if v, ok := ts.Get(uint8(types.SessTagNonce)); ok {
		if len(v) < MinNonceSize || len(v) > MaxNonceSize {
			return p, fmt.Errorf("%w: nonce of %d bytes", ErrBadParams, len(v))
		}
		p.Nonce = append([]byte(nil), v...)
	}
	if v, ok := ts.Get(uint8(types.SessTagID)); ok {
		if len(v) != types.SessionIDSize {
			return p, fmt.Errorf("%w: session ID of %d bytes", ErrBadParams, len(v))
		}
		p.ID = append([]byte(nil), v...)
	}
	if v, ok := ts.GetUint8(uint8(types.SessTagNextSeq)); ok {
		p.NextSeq, p.HasNextSeq = v, true
	}
	if v, ok := ts.GetUint32(uint8(types.SessTagTimeout)); ok {
		p.Timeout, p.HasTimeout = v, true
	}
	if v, ok := ts.GetUint32(uint8(types.SessTagObjOffset)); ok {
		p.Offset, p.HasOffset = v, true
	}
	return p, nil
}

// FindParams reads the Session-Parameters header of a packet.
func FindParams(pkt *packet.Packet) (p Params, found bool, err error) {
	ts, err := header.ReadTripletSet(pkt, types.HdrSessionParams)
	if errors.Is(err, header.ErrNotFound) {
		return p, false, nil
	}
	if err != nil {
		return p, true, err
	}
	p, err = ParseParams(ts)
	return p, true, err
}

// ValidateRequest checks that a session request carries the triplets its
// opcode requires.
func (p Params) ValidateRequest() error {
	if !p.HasOp {
		return fmt.Errorf("%w: missing session opcode", ErrBadParams)
	}
	switch p.Op {
	case types.SessOpCreate:
		if len(p.Addr) == 0 || len(p.Nonce) == 0 {
			return fmt.Errorf("%w: create needs address and nonce", ErrBadParams)
		}
	case types.SessOpResume:
		if len(p.Addr) == 0 || len(p.Nonce) == 0 || len(p.ID) == 0 {
			return fmt.Errorf("%w: resume needs address, nonce and session ID", ErrBadParams)
		}
	case types.SessOpClose, types.SessOpSuspend, types.SessOpSetTimeout:
	default:
		return fmt.Errorf("%w: unknown session opcode %s", ErrBadParams, p.Op)
	}
	return nil
}
