package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/obexd/internal/inbox"
	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/status"
	"github.com/marmos91/obexd/internal/telemetry"
	"github.com/marmos91/obexd/pkg/adapter"
	"github.com/marmos91/obexd/pkg/config"
	"github.com/marmos91/obexd/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/obexd/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the OBEX server",
	Long: `Start the OBEX server in the foreground.

The server listens on every enabled transport (TCP, Bluetooth RFCOMM) and
answers requests from its inbox. The status endpoint serves health probes,
Prometheus metrics and the suspended session table.

Examples:
  # Start with the default configuration
  obexd start

  # Start with a custom config file
  obexd start --config /etc/obexd/config.yaml

  # Override settings from the environment
  OBEXD_LOGGING_LEVEL=DEBUG OBEXD_SERVER_SRM=false obexd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	store, err := config.OpenSessionStore(cfg.Store, metrics.NewStoreMetrics())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Session store close error", logger.Err(err))
		}
	}()
	logger.Info("Session store opened", "type", cfg.Store.Type)

	srvOpts, err := cfg.Server.ServerOptions()
	if err != nil {
		return err
	}
	e := engine.New(cfg.EngineOptions(store, metrics.NewOBEXMetrics()))
	in := config.NewInbox(cfg.Inbox, cfg.Server)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- serve(ctx, cfg, e, in, srvOpts, store)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}
	return nil
}

// serve runs the engine, the adapters and the status endpoint until ctx is
// cancelled or one of them fails. The engine stops last so that adapters
// can drain their sessions.
func serve(ctx context.Context, cfg *config.Config, e *engine.Engine, in *inbox.Inbox, opts server.Options, store config.SessionStore) error {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() { engineDone <- e.Run(engineCtx) }()
	defer func() {
		stopEngine()
		<-e.Done()
	}()

	var adapters []adapter.Adapter
	if cfg.Server.TCP.Enabled {
		adapters = append(adapters, adapter.NewTCP(cfg.TCPAdapterConfig(), e, in.Sink(), opts))
	}
	if cfg.Server.RFCOMM.Enabled {
		adapters = append(adapters, adapter.NewRFCOMM(cfg.RFCOMMAdapterConfig(), e, in.Sink(), opts))
	}
	if len(adapters) == 0 {
		return errors.New("no transport enabled: set server.tcp.enabled or server.rfcomm.enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			logger.Info("Starting adapter", "protocol", a.Protocol())
			if err := a.Serve(gctx); err != nil {
				return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
			}
			return nil
		})
	}

	if cfg.Status.Enabled {
		deps := status.Deps{Engine: e, Inbox: in, Registry: metrics.GetRegistry()}
		if hc, ok := store.(status.Healthchecker); ok {
			deps.Store = hc
		}
		srv := status.NewServer(cfg.StatusConfig(), deps)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	g.Go(func() error {
		select {
		case err := <-engineDone:
			if err == nil {
				err = errors.New("engine stopped unexpectedly")
			}
			return err
		case <-gctx.Done():
			return nil
		}
	})

	return g.Wait()
}
