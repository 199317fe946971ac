package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const configHeader = `# obexd Configuration File
#
# Every key can be overridden by an environment variable named after its
# path, e.g. OBEXD_SERVER_MTU=16KiB or OBEXD_LOGGING_LEVEL=DEBUG.
#
# Generate the JSON schema with: obexd config schema

`

// InitConfig writes the default configuration to the default location.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path. An existing
// file is kept unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}
	if err := SaveConfig(GetDefaultConfig(), path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read back config file: %w", err)
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0600)
}

// Render returns cfg as YAML, with the password masked.
func Render(cfg *Config) ([]byte, error) {
	masked := *cfg
	if masked.Server.Password != "" {
		masked.Server.Password = "********"
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
