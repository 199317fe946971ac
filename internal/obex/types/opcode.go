package types

import "fmt"

// =============================================================================
// Request Opcodes
// =============================================================================

// Opcode is the first byte of an OBEX request packet. The high bit is the
// final bit; the low seven bits select the operation.
type Opcode uint8

// FinalBit marks the last packet of a request or any response packet.
const FinalBit uint8 = 0x80

const (
	OpConnect    Opcode = 0x80
	OpDisconnect Opcode = 0x81
	OpPut        Opcode = 0x02
	OpGet        Opcode = 0x03
	OpSetPath    Opcode = 0x85
	OpAction     Opcode = 0x06
	OpSession    Opcode = 0x87
	OpAbort      Opcode = 0xFF

	// OpPutFinal and OpGetFinal are the final-bit forms of Put and Get.
	OpPutFinal    Opcode = OpPut | Opcode(FinalBit)
	OpGetFinal    Opcode = OpGet | Opcode(FinalBit)
	OpActionFinal Opcode = OpAction | Opcode(FinalBit)
)

// Base strips the final bit from Put, Get and Action, whose requests may
// span several packets. Other opcodes always carry the final bit and are
// returned unchanged.
func (o Opcode) Base() Opcode {
	switch b := o &^ Opcode(FinalBit); b {
	case OpPut, OpGet, OpAction:
		return b
	}
	return o
}

// Final reports whether the final bit is set.
func (o Opcode) Final() bool {
	return uint8(o)&FinalBit != 0
}

// WithFinal returns the opcode with the final bit set or cleared.
func (o Opcode) WithFinal(final bool) Opcode {
	if final {
		return o | Opcode(FinalBit)
	}
	return o.Base()
}

// Known reports whether the opcode is a request this engine understands.
func (o Opcode) Known() bool {
	switch o.Base() {
	case OpPut, OpGet, OpAction, OpConnect, OpDisconnect, OpSetPath, OpSession, OpAbort:
		return true
	}
	return false
}

var opcodeNames = map[Opcode]string{
	OpConnect:    "CONNECT",
	OpDisconnect: "DISCONNECT",
	OpPut:        "PUT",
	OpGet:        "GET",
	OpSetPath:    "SETPATH",
	OpAction:     "ACTION",
	OpSession:    "SESSION",
	OpAbort:      "ABORT",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	if name, ok := opcodeNames[o.Base()]; ok {
		return name + "_FINAL"
	}
	return fmt.Sprintf("OPCODE(0x%02X)", uint8(o))
}

// =============================================================================
// Packet kinds
// =============================================================================

// Kind identifies what a packet buffer carries. The zero Kind is an
// unclassified buffer.
type Kind struct {
	Op       Opcode
	Response bool
}

// RequestKind returns the kind of a request with the given opcode.
func RequestKind(op Opcode) Kind { return Kind{Op: op} }

// ResponseKind returns the kind of a response to a request with the given
// opcode. The response kind matters because Connect responses carry fixed
// fields before the headers.
func ResponseKind(op Opcode) Kind { return Kind{Op: op, Response: true} }

// HeadersStart returns the offset of the first header in a packet of this
// kind.
func (k Kind) HeadersStart() int {
	switch {
	case k.Op == OpConnect:
		return ConnectHeadersStart
	case k.Op == OpSetPath && !k.Response:
		return SetPathHeadersStart
	default:
		return PacketPrefixSize
	}
}

func (k Kind) String() string {
	if k.Response {
		return k.Op.String() + "_RSP"
	}
	return k.Op.String() + "_REQ"
}

// =============================================================================
// Fixed field layout
// =============================================================================

const (
	// PacketPrefixSize is opcode(1) + length(2).
	PacketPrefixSize = 3

	// ConnectHeadersStart is prefix + version(1) + flags(1) + mtu(2).
	ConnectHeadersStart = 7

	// SetPathHeadersStart is prefix + flags(1) + constants(1).
	SetPathHeadersStart = 5

	// Version is OBEX 1.0 as encoded in the Connect version field.
	Version uint8 = 0x10

	// MinMTU is the smallest maximum packet length a peer may announce.
	MinMTU uint16 = 255

	// MaxMTU is the largest packet the 16-bit length field can describe.
	MaxMTU uint16 = 0xFFFF

	// DefaultMTU is the packet size used when no MTU is configured.
	DefaultMTU uint16 = 8192
)

// SetPath flags.
const (
	SetPathBackup   uint8 = 0x01 // go up one level before applying Name
	SetPathNoCreate uint8 = 0x02 // do not create the folder if missing
)

// Connect flags.
const (
	ConnectFlagMultipleLinks uint8 = 0x01
)

// ActionID values carried by the Action-ID header.
type ActionID uint8

const (
	ActionCopy           ActionID = 0x00
	ActionMove           ActionID = 0x01
	ActionSetPermissions ActionID = 0x02
)

func (a ActionID) String() string {
	switch a {
	case ActionCopy:
		return "COPY"
	case ActionMove:
		return "MOVE"
	case ActionSetPermissions:
		return "SET_PERMISSIONS"
	default:
		return fmt.Sprintf("ACTION(0x%02X)", uint8(a))
	}
}
