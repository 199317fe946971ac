package commands

import (
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration named by --config, or the default
// location, or the built-in defaults.
func loadConfig() (*config.Config, error) {
	return config.MustLoad(GetConfigFile())
}

// getConfigSource describes where the configuration came from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// statusBaseURL is the address of the status endpoint of a local daemon.
func statusBaseURL(cfg *config.Config) string {
	host := cfg.Status.BindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Status.Port))
}
