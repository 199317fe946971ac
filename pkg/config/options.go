package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/transport/rfcomm"
	"github.com/marmos91/obexd/internal/status"
	"github.com/marmos91/obexd/internal/telemetry"
	"github.com/marmos91/obexd/pkg/adapter"
	"github.com/marmos91/obexd/pkg/metrics"
)

// ServiceName is reported to the trace and profiling backends.
const ServiceName = "obexd"

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TelemetryConfig converts the telemetry section.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig converts the profiling section.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
	}
}

// StatusConfig converts the status section.
func (c *Config) StatusConfig() status.Config {
	return status.Config{
		Address:      fmt.Sprintf("%s:%d", c.Status.BindAddress, c.Status.Port),
		ReadTimeout:  c.Status.ReadTimeout,
		WriteTimeout: c.Status.WriteTimeout,
		IdleTimeout:  c.Status.IdleTimeout,
	}
}

// EngineOptions converts the engine section. store may be nil.
func (c *Config) EngineOptions(store SessionStore, m metrics.OBEXMetrics) engine.Options {
	opts := engine.Options{
		MaxConnections: c.Engine.MaxConnections,
		QueueSize:      c.Engine.QueueSize,
		MaxSuspended:   c.Server.MaxSuspended,
		Metrics:        m,
	}
	if store != nil {
		opts.Store = store
	}
	return opts
}

// ParseTargets parses Target UUID strings into header values.
func ParseTargets(targets []string) ([][]byte, error) {
	out := make([][]byte, 0, len(targets))
	for _, t := range targets {
		u, err := uuid.Parse(t)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", t, err)
		}
		b := make([]byte, len(u))
		copy(b, u[:])
		out = append(out, b)
	}
	return out, nil
}

// ServerOptions converts the server section.
func (c *ServerConfig) ServerOptions() (server.Options, error) {
	targets, err := ParseTargets(c.Targets)
	if err != nil {
		return server.Options{}, err
	}
	mtu, err := c.MTU.Uint16()
	if err != nil {
		return server.Options{}, fmt.Errorf("server.mtu: %w", err)
	}
	opts := server.Options{
		MTU:              mtu,
		SRM:              c.SRM,
		Targets:          targets,
		UserIDRequired:   c.UserIDRequired,
		SessionTimeout:   uint32(c.SessionTimeout.Seconds()),
		WaitCloseTimeout: c.WaitCloseTimeout,
	}
	if c.Password != "" {
		opts.Password = []byte(c.Password)
		opts.Auth = true
	}
	if c.Realm != "" {
		opts.Realm = []byte(c.Realm)
	}
	if c.UserID != "" {
		opts.UserID = []byte(c.UserID)
	}
	return opts, nil
}

// BaseConfig returns the settings shared by both adapters.
func (c *Config) BaseConfig() adapter.BaseConfig {
	return adapter.BaseConfig{
		MaxConnections:     c.Server.MaxConnections,
		ShutdownTimeout:    c.ShutdownTimeout,
		MetricsLogInterval: c.Server.MetricsLogInterval,
	}
}

// TCPAdapterConfig converts the server.tcp section.
func (c *Config) TCPAdapterConfig() adapter.TCPConfig {
	return adapter.TCPConfig{
		BaseConfig:  c.BaseConfig(),
		BindAddress: c.Server.TCP.BindAddress,
		Port:        c.Server.TCP.Port,
	}
}

// RFCOMMAdapterConfig converts the server.rfcomm section.
func (c *Config) RFCOMMAdapterConfig() adapter.RFCOMMConfig {
	return adapter.RFCOMMConfig{
		BaseConfig: c.BaseConfig(),
		Profile: rfcomm.ProfileOptions{
			Name:    c.Server.RFCOMM.Name,
			UUID:    c.Server.RFCOMM.UUID,
			Channel: c.Server.RFCOMM.Channel,
		},
	}
}

// ClientOptions converts the client section.
func (c *ClientConfig) ClientOptions(m metrics.OBEXMetrics) client.Options {
	return client.Options{
		MTU:             uint16(c.MTU),
		SRM:             c.SRM,
		SRMQueue:        c.SRMQueue,
		ResponseTimeout: c.ResponseTimeout,
		Metrics:         m,
	}
}

// TargetHeader returns the parsed client Target, or nil.
func (c *ClientConfig) TargetHeader() ([]byte, error) {
	if c.Target == "" {
		return nil, nil
	}
	t, err := ParseTargets([]string{c.Target})
	if err != nil {
		return nil, err
	}
	return t[0], nil
}
