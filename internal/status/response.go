package status

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/session"
)

// Response wraps every JSON body served by the endpoint.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SuspendedSession is the public view of a suspended session. Nonces are
// left out.
type SuspendedSession struct {
	Peer      string    `json:"peer"`
	SessionID string    `json:"session_id"`
	SSN       uint8     `json:"ssn"`
	Offset    uint32    `json:"offset"`
	Timeout   uint32    `json:"timeout"`
	Expires   time.Time `json:"expires,omitzero"`
	LinkLost  bool      `json:"link_lost"`
}

func suspendedView(e session.Entry) SuspendedSession {
	return SuspendedSession{
		Peer:      e.Addr.String(),
		SessionID: hex.EncodeToString(e.ID[:]),
		SSN:       e.SSN,
		Offset:    e.Offset,
		Timeout:   e.Timeout,
		Expires:   e.Expires,
		LinkLost:  e.DropSuspended,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write status response", logger.Err(err))
	}
}

func ok(data any) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func healthy(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthy(msg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: msg}
}

func failed(msg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg}
}
