// Package rfcomm carries OBEX over Bluetooth RFCOMM on Linux.
//
// Incoming connections arrive through a BlueZ Profile1 object registered on
// the system bus; BlueZ hands over a connected socket for each peer.
// Outgoing connections open an RFCOMM socket directly.
package rfcomm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marmos91/obexd/internal/obex/types"
)

// Service class UUIDs for the OBEX profiles.
const (
	ObjectPushUUID   = "00001105-0000-1000-8000-00805f9b34fb"
	FileTransferUUID = "00001106-0000-1000-8000-00805f9b34fb"
)

// DefaultChannel is the RFCOMM channel requested when registering a profile.
const DefaultChannel uint8 = 9

// ErrUnsupported is returned on platforms without BlueZ.
var ErrUnsupported = errors.New("rfcomm: not supported on this platform")

// ProfileOptions configures a registered server profile.
type ProfileOptions struct {
	// Name is the SDP service name.
	Name string
	// UUID is the service class UUID. Empty uses ObjectPushUUID.
	UUID string
	// Channel is the RFCOMM channel. Zero uses DefaultChannel.
	Channel uint8
	// Backlog bounds connections waiting for Accept.
	Backlog int
}

func (o *ProfileOptions) normalize() error {
	if o.Name == "" {
		return fmt.Errorf("rfcomm: profile name required")
	}
	if o.UUID == "" {
		o.UUID = ObjectPushUUID
	}
	u, err := uuid.Parse(o.UUID)
	if err != nil {
		return fmt.Errorf("rfcomm: profile uuid: %w", err)
	}
	o.UUID = u.String()
	if o.Channel == 0 {
		o.Channel = DefaultChannel
	}
	if o.Backlog <= 0 {
		o.Backlog = 4
	}
	return nil
}

// AddrFromDevicePath extracts the device address from a BlueZ object path
// such as /org/bluez/hci0/dev_00_11_22_33_44_55.
func AddrFromDevicePath(p string) (types.BDAddr, bool) {
	idx := strings.LastIndex(p, "/dev_")
	if idx < 0 {
		return types.BDAddr{}, false
	}
	a, err := types.ParseBDAddr(strings.ReplaceAll(p[idx+5:], "_", ":"))
	if err != nil {
		return types.BDAddr{}, false
	}
	return a, true
}

// kernelAddr converts a display-order address to the little-endian order
// used by the Bluetooth socket API.
func kernelAddr(a types.BDAddr) [6]byte {
	var out [6]byte
	for i := range a {
		out[i] = a[len(a)-1-i]
	}
	return out
}
