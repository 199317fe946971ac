package config

import (
	"strings"
	"time"

	"github.com/marmos91/obexd/internal/bytesize"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Default values not owned by another package.
const (
	DefaultStatusPort      = 8650
	DefaultShutdownTimeout = 30 * time.Second
	DefaultSessionTimeout  = 60 * time.Second
	DefaultWaitClose       = 5 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultMaxSuspended    = 4
)

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyStatusDefaults(&cfg.Status)
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyStoreDefaults(&cfg.Store)
	applyInboxDefaults(&cfg.Inbox)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyStatusDefaults(cfg *StatusConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultStatusPort
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.TCP.Port == 0 {
		cfg.TCP.Port = stream.DefaultPort
	}
	if cfg.MTU == 0 {
		cfg.MTU = bytesize.ByteSize(types.DefaultMTU)
	}
	if cfg.MaxSuspended == 0 {
		cfg.MaxSuspended = DefaultMaxSuspended
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.WaitCloseTimeout == 0 {
		cfg.WaitCloseTimeout = DefaultWaitClose
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.Address == "" && cfg.Transport == "tcp" {
		cfg.Address = "localhost:650"
	}
	if cfg.MTU == 0 {
		cfg.MTU = bytesize.ByteSize(types.DefaultMTU)
	}
	if cfg.SRMQueue == 0 {
		cfg.SRMQueue = 2
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = StoreMemory
	}
}

func applyInboxDefaults(cfg *InboxConfig) {
	if cfg.MaxObjectSize == 0 {
		cfg.MaxObjectSize = 64 * bytesize.MiB
	}
	if cfg.MaxTotalSize == 0 {
		cfg.MaxTotalSize = 512 * bytesize.MiB
	}
}

// GetDefaultConfig returns a Config with all defaults applied: TCP server
// enabled, status endpoint and metrics enabled, memory session store.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{Insecure: true},
		Metrics:   MetricsConfig{Enabled: true},
		Status:    StatusConfig{Enabled: true},
		Server: ServerConfig{
			TCP: TCPConfig{Enabled: true},
			SRM: true,
		},
		Client: ClientConfig{SRM: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
