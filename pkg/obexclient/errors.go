package obexclient

import (
	"errors"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/types"
)

// ErrTimeout is returned when the peer stops answering.
var ErrTimeout = errors.New("obex: response timeout")

// StatusError is a request the peer refused.
type StatusError struct {
	Op     string
	Status types.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *StatusError) IsNotFound() bool     { return e.Status == types.StatusNotFound }
func (e *StatusError) IsUnauthorized() bool { return e.Status == types.StatusUnauthorized }
func (e *StatusError) IsForbidden() bool    { return e.Status == types.StatusForbidden }

// check turns a non-success final status into a StatusError.
func check(op string, s types.Status) error {
	if s.IsSuccess() {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// IsNotFound reports whether err is a NotFound refusal.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.IsNotFound()
}
