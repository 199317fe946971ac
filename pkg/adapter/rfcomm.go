package adapter

import (
	"context"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/transport/rfcomm"
)

// RFCOMMConfig configures OBEX over Bluetooth RFCOMM.
type RFCOMMConfig struct {
	BaseConfig
	Profile rfcomm.ProfileOptions
}

// RFCOMMAdapter registers a BlueZ profile and serves the channels BlueZ
// hands over.
type RFCOMMAdapter struct {
	*BaseAdapter
	cfg RFCOMMConfig
}

// NewRFCOMM creates an RFCOMM adapter running sessions on e.
func NewRFCOMM(cfg RFCOMMConfig, e *engine.Engine, sink engine.Sink, opts server.Options) *RFCOMMAdapter {
	return &RFCOMMAdapter{
		BaseAdapter: NewBaseAdapter(cfg.BaseConfig, "RFCOMM", e, sink, opts),
		cfg:         cfg,
	}
}

// Serve registers the profile and accepts until ctx is cancelled.
func (a *RFCOMMAdapter) Serve(ctx context.Context) error {
	p, err := rfcomm.Register(ctx, a.cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to register RFCOMM profile %q: %w", a.cfg.Profile.Name, err)
	}
	return a.ServeListener(ctx, &profileListener{p: p, name: a.cfg.Profile.Name, ch: a.cfg.Profile.Channel})
}

type profileListener struct {
	p    *rfcomm.Profile
	name string
	ch   uint8
}

func (l *profileListener) Accept(ctx context.Context) (transport.Transport, error) {
	c, err := l.p.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *profileListener) Close() error { return l.p.Close() }
func (l *profileListener) Addr() string { return fmt.Sprintf("%s/rfcomm:%d", l.name, l.ch) }
