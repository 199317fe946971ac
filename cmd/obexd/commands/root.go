// Package commands implements the obexd command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/cmd/obexd/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "obexd",
	Short: "obexd - OBEX object exchange server and client",
	Long: `obexd serves and consumes OBEX (IrDA/Bluetooth object exchange) over TCP
and Bluetooth RFCOMM. It runs an inbox that accepts pushed objects, answers
pulls and folder browsing, and keeps reliable sessions resumable across link
loss.

Use "obexd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/obexd/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}
