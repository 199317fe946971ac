package types

import "fmt"

// =============================================================================
// Response Codes
// =============================================================================

// Status is an OBEX response code. Response codes follow the HTTP status
// classes and are always sent with the final bit set.
type Status uint8

const (
	StatusContinue Status = 0x90

	StatusOK               Status = 0xA0
	StatusCreated          Status = 0xA1
	StatusAccepted         Status = 0xA2
	StatusNonAuthoritative Status = 0xA3
	StatusNoContent        Status = 0xA4
	StatusResetContent     Status = 0xA5
	StatusPartialContent   Status = 0xA6

	StatusMultipleChoices  Status = 0xB0
	StatusMovedPermanently Status = 0xB1
	StatusMovedTemporarily Status = 0xB2
	StatusSeeOther         Status = 0xB3
	StatusNotModified      Status = 0xB4
	StatusUseProxy         Status = 0xB5

	StatusBadRequest            Status = 0xC0
	StatusUnauthorized          Status = 0xC1
	StatusPaymentRequired       Status = 0xC2
	StatusForbidden             Status = 0xC3
	StatusNotFound              Status = 0xC4
	StatusMethodNotAllowed      Status = 0xC5
	StatusNotAcceptable         Status = 0xC6
	StatusProxyAuthRequired     Status = 0xC7
	StatusRequestTimeout        Status = 0xC8
	StatusConflict              Status = 0xC9
	StatusGone                  Status = 0xCA
	StatusLengthRequired        Status = 0xCB
	StatusPreconditionFailed    Status = 0xCC
	StatusRequestEntityTooLarge Status = 0xCD
	StatusRequestURLTooLarge    Status = 0xCE
	StatusUnsupportedMediaType  Status = 0xCF

	StatusInternalServerError     Status = 0xD0
	StatusNotImplemented          Status = 0xD1
	StatusBadGateway              Status = 0xD2
	StatusServiceUnavailable      Status = 0xD3
	StatusGatewayTimeout          Status = 0xD4
	StatusHTTPVersionNotSupported Status = 0xD5

	StatusDatabaseFull   Status = 0xE0
	StatusDatabaseLocked Status = 0xE1
)

// Class groups response codes by how a requester must react to them.
type Class uint8

const (
	// ClassContinue asks the requester to send the next packet.
	ClassContinue Class = iota
	// ClassOK completes the exchange successfully.
	ClassOK
	// ClassFail completes the exchange with an error.
	ClassFail
	// ClassInvalid is a response byte without the final bit. Receiving one
	// is a protocol error.
	ClassInvalid
)

func (c Class) String() string {
	switch c {
	case ClassContinue:
		return "continue"
	case ClassOK:
		return "ok"
	case ClassFail:
		return "fail"
	default:
		return "invalid"
	}
}

// Class classifies the response code. Only codes carrying the final bit are
// valid responses.
func (s Status) Class() Class {
	if uint8(s)&FinalBit == 0 {
		return ClassInvalid
	}
	switch code := uint8(s) &^ FinalBit; {
	case code == 0x10:
		return ClassContinue
	case code >= 0x20 && code <= 0x2F:
		return ClassOK
	default:
		return ClassFail
	}
}

// IsSuccess reports whether the status completes an exchange successfully.
func (s Status) IsSuccess() bool { return s.Class() == ClassOK }

var statusNames = map[Status]string{
	StatusContinue:                "Continue",
	StatusOK:                      "OK",
	StatusCreated:                 "Created",
	StatusAccepted:                "Accepted",
	StatusNonAuthoritative:        "NonAuthoritativeInformation",
	StatusNoContent:               "NoContent",
	StatusResetContent:            "ResetContent",
	StatusPartialContent:          "PartialContent",
	StatusMultipleChoices:         "MultipleChoices",
	StatusMovedPermanently:        "MovedPermanently",
	StatusMovedTemporarily:        "MovedTemporarily",
	StatusSeeOther:                "SeeOther",
	StatusNotModified:             "NotModified",
	StatusUseProxy:                "UseProxy",
	StatusBadRequest:              "BadRequest",
	StatusUnauthorized:            "Unauthorized",
	StatusPaymentRequired:         "PaymentRequired",
	StatusForbidden:               "Forbidden",
	StatusNotFound:                "NotFound",
	StatusMethodNotAllowed:        "MethodNotAllowed",
	StatusNotAcceptable:           "NotAcceptable",
	StatusProxyAuthRequired:       "ProxyAuthenticationRequired",
	StatusRequestTimeout:          "RequestTimeout",
	StatusConflict:                "Conflict",
	StatusGone:                    "Gone",
	StatusLengthRequired:          "LengthRequired",
	StatusPreconditionFailed:      "PreconditionFailed",
	StatusRequestEntityTooLarge:   "RequestEntityTooLarge",
	StatusRequestURLTooLarge:      "RequestURLTooLarge",
	StatusUnsupportedMediaType:    "UnsupportedMediaType",
	StatusInternalServerError:     "InternalServerError",
	StatusNotImplemented:          "NotImplemented",
	StatusBadGateway:              "BadGateway",
	StatusServiceUnavailable:      "ServiceUnavailable",
	StatusGatewayTimeout:          "GatewayTimeout",
	StatusHTTPVersionNotSupported: "HTTPVersionNotSupported",
	StatusDatabaseFull:            "DatabaseFull",
	StatusDatabaseLocked:          "DatabaseLocked",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%02X)", uint8(s))
}
