package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/obexd/internal/bytesize"
)

// EnvPrefix prefixes every environment override, e.g. OBEXD_SERVER_MTU.
const EnvPrefix = "OBEXD"

// Config represents the obexd configuration.
//
// It covers:
//   - Logging, tracing and profiling
//   - Metrics and the status HTTP endpoint
//   - The OBEX server: transports, MTU, targets, authentication, reliable sessions
//   - The OBEX client used by push and pull
//   - The suspended session store
//   - The inbox object store limits
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OBEXD_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Status  StatusConfig  `mapstructure:"status" yaml:"status"`

	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Store selects where suspended reliable sessions are kept.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	Inbox InboxConfig `mapstructure:"inbox" yaml:"inbox"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig enables Prometheus collection. The metrics are served by
// the status endpoint under /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StatusConfig configures the status HTTP endpoint.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port. Default: 8650
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// BindAddress is the interface to bind. Default: 127.0.0.1
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// EngineConfig sizes the event loop.
type EngineConfig struct {
	// MaxConnections bounds the live connections, clients and servers together.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=1" yaml:"max_connections"`

	// QueueSize is the task queue capacity. Transports block once it is full.
	QueueSize int `mapstructure:"queue_size" validate:"omitempty,min=1" yaml:"queue_size"`
}

// ServerConfig configures the OBEX server side.
type ServerConfig struct {
	TCP    TCPConfig    `mapstructure:"tcp" yaml:"tcp"`
	RFCOMM RFCOMMConfig `mapstructure:"rfcomm" yaml:"rfcomm"`

	// MTU is the largest packet accepted. Supports sizes like "8KiB".
	MTU bytesize.ByteSize `mapstructure:"mtu" validate:"omitempty,min=255,max=65535" yaml:"mtu"`

	// SRM allows single response mode.
	SRM bool `mapstructure:"srm" yaml:"srm"`

	// Targets are the Target header UUIDs answered by a directed server.
	// Empty serves the default inbox.
	Targets []string `mapstructure:"targets" validate:"omitempty,dive,uuid" yaml:"targets,omitempty"`

	// Password challenges every connecting client when set.
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	Realm          string `mapstructure:"realm" yaml:"realm,omitempty"`
	UserIDRequired bool   `mapstructure:"user_id_required" yaml:"user_id_required"`
	UserID         string `mapstructure:"user_id" yaml:"user_id,omitempty"`

	// MaxConnections limits concurrent sessions per transport. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=0" yaml:"max_connections"`

	// MaxSuspended bounds the suspended reliable sessions kept for resume.
	MaxSuspended int `mapstructure:"max_suspended" validate:"omitempty,min=1,max=255" yaml:"max_suspended"`

	// SessionTimeout is granted to reliable sessions created without a proposal.
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`

	// WaitCloseTimeout bounds the wait after a Disconnect inside a reliable session.
	WaitCloseTimeout time.Duration `mapstructure:"wait_close_timeout" yaml:"wait_close_timeout"`

	// MetricsLogInterval logs adapter counters periodically. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval"`
}

// TCPConfig configures OBEX over TCP.
type TCPConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`
	Port        int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// RFCOMMConfig configures OBEX over Bluetooth RFCOMM via BlueZ.
type RFCOMMConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Name is the SDP service name.
	Name string `mapstructure:"name" validate:"required_if=Enabled true" yaml:"name"`

	// UUID is the service class. Default: Object Push
	UUID    string `mapstructure:"uuid" validate:"omitempty,uuid" yaml:"uuid"`
	Channel uint8  `mapstructure:"channel" validate:"omitempty,min=1,max=30" yaml:"channel"`
}

// ClientConfig configures the OBEX client used by push and pull.
type ClientConfig struct {
	// Address is the default peer, host:port for TCP or a Bluetooth
	// address for RFCOMM.
	Address string `mapstructure:"address" yaml:"address"`

	// Transport is tcp or rfcomm.
	Transport string `mapstructure:"transport" validate:"omitempty,oneof=tcp rfcomm" yaml:"transport"`

	// Channel is the RFCOMM channel of the peer service.
	Channel uint8 `mapstructure:"channel" validate:"omitempty,min=1,max=30" yaml:"channel"`

	MTU bytesize.ByteSize `mapstructure:"mtu" validate:"omitempty,min=255,max=65535" yaml:"mtu"`
	SRM bool              `mapstructure:"srm" yaml:"srm"`

	// SRMQueue is the number of streamed responses buffered before the
	// server is asked to wait.
	SRMQueue int `mapstructure:"srm_queue" validate:"omitempty,min=1" yaml:"srm_queue"`

	// Target is an optional Target UUID sent with Connect.
	Target string `mapstructure:"target" validate:"omitempty,uuid" yaml:"target,omitempty"`

	// Reliable asks for a reliable session before connecting.
	Reliable bool `mapstructure:"reliable" yaml:"reliable"`

	ResponseTimeout time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
}

// Store types.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// StoreConfig selects the suspended session store.
type StoreConfig struct {
	// Type is memory or badger.
	Type string `mapstructure:"type" validate:"required,oneof=memory badger" yaml:"type"`

	// Path is the badger directory.
	Path string `mapstructure:"path" validate:"required_if=Type badger" yaml:"path,omitempty"`
}

// InboxConfig bounds the default service object store.
type InboxConfig struct {
	ReadOnly      bool              `mapstructure:"read_only" yaml:"read_only"`
	MaxObjectSize bytesize.ByteSize `mapstructure:"max_object_size" yaml:"max_object_size"`
	MaxTotalSize  bytesize.ByteSize `mapstructure:"max_total_size" yaml:"max_total_size"`
	MaxObjects    int               `mapstructure:"max_objects" validate:"omitempty,min=1" yaml:"max_objects"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing file is not an error: defaults with environment overrides
// are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Environment variables only reach Unmarshal for keys viper knows, so
	// seed every key from the defaults.
	if err := seedDefaults(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load with instructions when an explicitly named file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  obexd config init --config %s",
				configPath, configPath)
		}
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// The file may hold the server password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reports whether a configuration file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// seedDefaults registers every key of the default configuration with v
// so AutomaticEnv can override keys absent from the file.
func seedDefaults(v *viper.Viper) error {
	var m map[string]any
	if err := mapstructure.Decode(GetDefaultConfig(), &m); err != nil {
		return fmt.Errorf("failed to seed defaults: %w", err)
	}
	for key, val := range flatten("", m) {
		if !v.IsSet(key) {
			v.SetDefault(key, val)
		}
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts sizes like "8KiB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts durations like "30s". Raw integers are
// nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/obexd, ~/.config/obexd, or "."
// when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "obexd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "obexd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
