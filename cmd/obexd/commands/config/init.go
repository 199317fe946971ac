package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write the default obexd configuration.

The file is created at $XDG_CONFIG_HOME/obexd/config.yaml unless --config
names another path.

Examples:
  obexd config init
  obexd config init --config /etc/obexd/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set server.password to require authentication")
	_, _ = fmt.Fprintln(out, "  2. Enable server.rfcomm to serve Bluetooth peers")
	_, _ = fmt.Fprintf(out, "  3. Start the server with: obexd start --config %s\n", configPath)
	return nil
}
