//go:build linux

package rfcomm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
)

var pathCounter uint64

// Dial opens an RFCOMM connection to addr on the given channel.
func Dial(ctx context.Context, addr types.BDAddr, channel uint8, opts stream.Options) (*stream.Conn, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: kernelAddr(addr), Channel: channel})
	}()

	select {
	case <-ctx.Done():
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: connect canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("rfcomm: connect %s: %w", addr, err)
		}
	}

	opts.Name = "rfcomm"
	opts.PeerAddr = addr
	return stream.New(os.NewFile(uintptr(fd), "rfcomm"), opts), nil
}

// Profile is a registered BlueZ server profile delivering incoming
// connections.
type Profile struct {
	bus  *dbus.Conn
	path dbus.ObjectPath
	opts ProfileOptions

	conns chan *stream.Conn

	mu     sync.Mutex
	closed bool
}

// Register exports a Profile1 object and registers it with BlueZ.
func Register(ctx context.Context, opts ProfileOptions) (*Profile, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	bus, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("rfcomm: connect system bus: %w", err)
	}

	id := atomic.AddUint64(&pathCounter, 1)
	p := &Profile{
		bus:   bus,
		path:  dbus.ObjectPath("/org/obexd/profile/p" + strconv.FormatUint(id, 10)),
		opts:  opts,
		conns: make(chan *stream.Conn, opts.Backlog),
	}
	if err := bus.Export(&profileObject{p: p}, p.path, profileIface); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("rfcomm: export profile: %w", err)
	}

	options := map[string]dbus.Variant{
		"Name":    dbus.MakeVariant(opts.Name),
		"Role":    dbus.MakeVariant("server"),
		"Channel": dbus.MakeVariant(uint16(opts.Channel)),
	}
	pm := bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if call := pm.CallWithContext(ctx, profileManagerIface+".RegisterProfile", 0, p.path, opts.UUID, options); call.Err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("rfcomm: register profile: %w", call.Err)
	}

	logger.Info("RFCOMM profile registered",
		logger.KeyName, opts.Name,
		"uuid", opts.UUID,
		"channel", opts.Channel)
	return p, nil
}

// Accept waits for the next incoming connection.
func (p *Profile) Accept(ctx context.Context) (*stream.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c, ok := <-p.conns:
		if !ok {
			return nil, fmt.Errorf("rfcomm: profile closed")
		}
		return c, nil
	}
}

// Close unregisters the profile and releases the bus connection.
func (p *Profile) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.conns)
	p.mu.Unlock()

	pm := p.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, p.path).Err
	_ = p.bus.Export(nil, p.path, profileIface)
	return p.bus.Close()
}

func (p *Profile) deliver(dev dbus.ObjectPath, fd int) *dbus.Error {
	peer, _ := AddrFromDevicePath(string(dev))
	conn := stream.New(os.NewFile(uintptr(fd), "rfcomm"), stream.Options{
		Name:     "rfcomm",
		PeerAddr: peer,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []any{"profile closed"}}
	}
	select {
	case p.conns <- conn:
		logger.Debug("RFCOMM connection delivered", logger.KeyPeer, peer.String())
		return nil
	default:
		_ = conn.Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []any{"backlog full"}}
	}
}

// profileObject is the exported org.bluez.Profile1 implementation.
type profileObject struct {
	p *Profile
}

func (o *profileObject) Release() *dbus.Error { return nil }
func (o *profileObject) Cancel() *dbus.Error  { return nil }

func (o *profileObject) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (o *profileObject) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	return o.p.deliver(dev, int(fd))
}
