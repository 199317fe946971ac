package types

import "fmt"

// HeaderID identifies an OBEX header. The two most significant bits select
// how the value is encoded on the wire.
type HeaderID uint8

// Encoding is the value encoding selected by the top two bits of a HeaderID.
type Encoding uint8

const (
	// EncUnicode is a null terminated UTF-16BE string with a 2-byte length.
	EncUnicode Encoding = 0x00
	// EncBytes is a byte sequence with a 2-byte length.
	EncBytes Encoding = 0x40
	// EncByte is a single byte value.
	EncByte Encoding = 0x80
	// EncUint32 is a 4-byte big-endian value.
	EncUint32 Encoding = 0xC0
)

const encodingMask = 0xC0

const (
	HdrCount         HeaderID = 0xC0
	HdrName          HeaderID = 0x01
	HdrType          HeaderID = 0x42
	HdrLength        HeaderID = 0xC3
	HdrTime          HeaderID = 0x44
	HdrTime4         HeaderID = 0xC4
	HdrDescription   HeaderID = 0x05
	HdrTarget        HeaderID = 0x46
	HdrHTTP          HeaderID = 0x47
	HdrBody          HeaderID = 0x48
	HdrEndOfBody     HeaderID = 0x49
	HdrWho           HeaderID = 0x4A
	HdrConnectionID  HeaderID = 0xCB
	HdrAppParams     HeaderID = 0x4C
	HdrAuthChallenge HeaderID = 0x4D
	HdrAuthResponse  HeaderID = 0x4E
	HdrCreatorID     HeaderID = 0xCF
	HdrWANUUID       HeaderID = 0x50
	HdrObjectClass   HeaderID = 0x51
	HdrSessionParams HeaderID = 0x52
	HdrSessionSeqNum HeaderID = 0x93
	HdrActionID      HeaderID = 0x94
	HdrDestName      HeaderID = 0x15
	HdrPermissions   HeaderID = 0xD6
	HdrSRM           HeaderID = 0x97
	HdrSRMParam      HeaderID = 0x98
)

// Encoding returns the value encoding of the header.
func (h HeaderID) Encoding() Encoding {
	return Encoding(uint8(h) & encodingMask)
}

var headerNames = map[HeaderID]string{
	HdrCount:         "Count",
	HdrName:          "Name",
	HdrType:          "Type",
	HdrLength:        "Length",
	HdrTime:          "Time",
	HdrTime4:         "Time4",
	HdrDescription:   "Description",
	HdrTarget:        "Target",
	HdrHTTP:          "HTTP",
	HdrBody:          "Body",
	HdrEndOfBody:     "EndOfBody",
	HdrWho:           "Who",
	HdrConnectionID:  "ConnectionID",
	HdrAppParams:     "AppParameters",
	HdrAuthChallenge: "AuthChallenge",
	HdrAuthResponse:  "AuthResponse",
	HdrCreatorID:     "CreatorID",
	HdrWANUUID:       "WANUUID",
	HdrObjectClass:   "ObjectClass",
	HdrSessionParams: "SessionParameters",
	HdrSessionSeqNum: "SessionSequenceNumber",
	HdrActionID:      "ActionID",
	HdrDestName:      "DestName",
	HdrPermissions:   "Permissions",
	HdrSRM:           "SRM",
	HdrSRMParam:      "SRMParameters",
}

func (h HeaderID) String() string {
	if name, ok := headerNames[h]; ok {
		return name
	}
	return fmt.Sprintf("Header(0x%02X)", uint8(h))
}

// SRM header values.
const (
	SRMDisable   uint8 = 0x00
	SRMEnable    uint8 = 0x01
	SRMSupported uint8 = 0x02
)

// SRMParamWait is the SRM-Parameters value asking the peer to wait.
const SRMParamWait uint8 = 0x01

// =============================================================================
// Session parameters
// =============================================================================

// SessionTag is a triplet tag inside the Session-Parameters header.
type SessionTag uint8

const (
	SessTagAddr      SessionTag = 0x00
	SessTagNonce     SessionTag = 0x01
	SessTagID        SessionTag = 0x02
	SessTagNextSeq   SessionTag = 0x03
	SessTagTimeout   SessionTag = 0x04
	SessTagOpcode    SessionTag = 0x05
	SessTagObjOffset SessionTag = 0x06
)

// SessionOp is the value of the session opcode triplet.
type SessionOp uint8

const (
	SessOpCreate     SessionOp = 0x00
	SessOpClose      SessionOp = 0x01
	SessOpSuspend    SessionOp = 0x02
	SessOpResume     SessionOp = 0x03
	SessOpSetTimeout SessionOp = 0x04
)

func (o SessionOp) String() string {
	switch o {
	case SessOpCreate:
		return "create"
	case SessOpClose:
		return "close"
	case SessOpSuspend:
		return "suspend"
	case SessOpResume:
		return "resume"
	case SessOpSetTimeout:
		return "set-timeout"
	default:
		return fmt.Sprintf("sessop(0x%02X)", uint8(o))
	}
}

// InfiniteTimeout is the session timeout value meaning "never expire".
const InfiniteTimeout uint32 = 0xFFFFFFFF

// =============================================================================
// Authentication triplets
// =============================================================================

const (
	ChallengeTagNonce   uint8 = 0x00
	ChallengeTagOptions uint8 = 0x01
	ChallengeTagRealm   uint8 = 0x02

	ResponseTagDigest uint8 = 0x00
	ResponseTagUserID uint8 = 0x01
	ResponseTagNonce  uint8 = 0x02
)

// Challenge options bits.
const (
	ChallengeOptUserID   uint8 = 0x01
	ChallengeOptReadOnly uint8 = 0x02
)

const (
	// NonceSize is the length of authentication nonces and digests.
	NonceSize = 16
	// SessionIDSize is the length of a reliable session identifier.
	SessionIDSize = 16
	// MaxUserIDSize is the longest user ID a response may carry.
	MaxUserIDSize = 20
)
