//go:build !linux

package rfcomm

import (
	"context"

	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Dial is unavailable without BlueZ.
func Dial(context.Context, types.BDAddr, uint8, stream.Options) (*stream.Conn, error) {
	return nil, ErrUnsupported
}

// Profile is unavailable without BlueZ.
type Profile struct{}

// Register is unavailable without BlueZ.
func Register(context.Context, ProfileOptions) (*Profile, error) { return nil, ErrUnsupported }

func (p *Profile) Accept(context.Context) (*stream.Conn, error) { return nil, ErrUnsupported }
func (p *Profile) Close() error                                 { return nil }
