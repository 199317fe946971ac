package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfig(t *testing.T) {
	// XDG_CONFIG_HOME works on every platform, HOME does not on Windows.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.True(t, DefaultConfigExists())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, section := range []string{"# obexd Configuration File", "logging:", "server:", "client:", "store:", "inbox:"} {
		assert.True(t, strings.Contains(string(content), section), "missing %q", section)
	}

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(content, &parsed))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)

	_, err = InitConfig(false)
	assert.ErrorContains(t, err, "already exists")
	_, err = InitConfig(true)
	assert.NoError(t, err)
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom", "obexd.yaml")
	require.NoError(t, InitConfigToPath(path, false))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestRenderMasksPassword(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Password = "0000"

	out, err := Render(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "0000")
	assert.Contains(t, string(out), "********")
	assert.Contains(t, string(out), "mtu: 8KiB")
	assert.Equal(t, "0000", cfg.Server.Password)
}
