package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/internal/cli/prompt"
	"github.com/marmos91/obexd/pkg/config"
	"github.com/marmos91/obexd/pkg/metrics"
	"github.com/marmos91/obexd/pkg/obexclient"
)

// clientFlags override the client section of the configuration.
type clientFlags struct {
	address   string
	transport string
	channel   uint8
	target    string
	folder    string
	reliable  bool
	noSRM     bool
	password  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.address, "address", "a", "", "Peer address, host:port or Bluetooth address (default: client.address)")
	cmd.Flags().StringVarP(&f.transport, "transport", "t", "", "Transport: tcp or rfcomm (default: client.transport)")
	cmd.Flags().Uint8Var(&f.channel, "channel", 0, "RFCOMM channel of the peer service")
	cmd.Flags().StringVar(&f.target, "target", "", "Target service UUID")
	cmd.Flags().StringVarP(&f.folder, "folder", "C", "", "Change into this folder first (slash separated)")
	cmd.Flags().BoolVar(&f.reliable, "reliable", false, "Create a reliable session")
	cmd.Flags().BoolVar(&f.noSRM, "no-srm", false, "Disable single response mode")
	cmd.Flags().StringVar(&f.password, "password", "", "Answer authentication challenges with this password instead of prompting")
}

// apply merges the flags into the client section.
func (f *clientFlags) apply(cfg *config.ClientConfig) {
	if f.address != "" {
		cfg.Address = f.address
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.channel != 0 {
		cfg.Channel = f.channel
	}
	if f.target != "" {
		cfg.Target = f.target
	}
	if f.reliable {
		cfg.Reliable = true
	}
	if f.noSRM {
		cfg.SRM = false
	}
}

func (f *clientFlags) credentials() obexclient.CredentialsFunc {
	if f.password != "" {
		pw := []byte(f.password)
		return func(string, bool) ([]byte, []byte, error) { return nil, pw, nil }
	}
	term := prompt.Terminal{In: os.Stdin, Out: os.Stderr}
	return term.Credentials
}

// dial connects to the peer described by the configuration and the flags,
// then walks into the requested folder.
func dial(ctx context.Context, f *clientFlags, progress func(int)) (*obexclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	f.apply(&cfg.Client)
	if cfg.Client.Transport == obexclient.TransportRFCOMM && cfg.Client.Channel == 0 {
		return nil, fmt.Errorf("--channel is required with the rfcomm transport")
	}

	target, err := cfg.Client.TargetHeader()
	if err != nil {
		return nil, err
	}
	c, err := obexclient.Dial(ctx, obexclient.Config{
		Transport:   cfg.Client.Transport,
		Address:     cfg.Client.Address,
		Channel:     cfg.Client.Channel,
		Options:     cfg.Client.ClientOptions(metrics.NewOBEXMetrics()),
		Target:      target,
		Reliable:    cfg.Client.Reliable,
		Credentials: f.credentials(),
		Progress:    progress,
	})
	if err != nil {
		return nil, err
	}

	if err := enterFolder(ctx, c, f.folder); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func enterFolder(ctx context.Context, c *obexclient.Client, folder string) error {
	for _, name := range splitFolder(folder) {
		up := name == ".."
		if up {
			name = ""
		}
		if err := c.SetPath(ctx, name, up, false); err != nil {
			return err
		}
	}
	return nil
}

func splitFolder(folder string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(folder); i++ {
		if i == len(folder) || folder[i] == '/' {
			if i > start {
				out = append(out, folder[start:i])
			}
			start = i + 1
		}
	}
	return out
}
