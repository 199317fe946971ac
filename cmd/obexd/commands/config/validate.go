package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the obexd configuration file.

Checks for syntax errors, missing required fields and invalid values.

Examples:
  obexd config validate
  obexd config validate --config /etc/obexd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	if _, err := cfg.Server.ServerOptions(); err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if !cfg.Server.TCP.Enabled && !cfg.Server.RFCOMM.Enabled {
		warnings = append(warnings, "No transport enabled - the server will refuse to start")
	}
	if cfg.Server.Password == "" {
		warnings = append(warnings, "No server password - any peer may push and pull")
	}
	if cfg.Store.Type == config.StoreMemory {
		warnings = append(warnings, "Memory session store - suspended sessions are lost on restart")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  TCP:           %v (port %d)\n", cfg.Server.TCP.Enabled, cfg.Server.TCP.Port)
	_, _ = fmt.Fprintf(out, "  RFCOMM:        %v\n", cfg.Server.RFCOMM.Enabled)
	_, _ = fmt.Fprintf(out, "  MTU:           %s\n", cfg.Server.MTU)
	_, _ = fmt.Fprintf(out, "  SRM:           %v\n", cfg.Server.SRM)
	_, _ = fmt.Fprintf(out, "  Session store: %s\n", cfg.Store.Type)
	_, _ = fmt.Fprintf(out, "  Log level:     %s\n", cfg.Logging.Level)
	return nil
}
