package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/internal/cli/health"
	"github.com/marmos91/obexd/internal/cli/output"
	"github.com/marmos91/obexd/internal/cli/timeutil"
)

var (
	statusOutput string
	statusURL    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of a running obexd server.

The command calls the liveness and readiness probes of the status endpoint
configured in the status section, or the one given with --url.

Examples:
  # Check the local daemon
  obexd status

  # Output as JSON
  obexd status -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "Status endpoint base URL (default: from config)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus is the combined result of both probes.
type ServerStatus struct {
	Running       bool   `json:"running" yaml:"running"`
	Healthy       bool   `json:"healthy" yaml:"healthy"`
	Ready         bool   `json:"ready" yaml:"ready"`
	Message       string `json:"message" yaml:"message"`
	StartedAt     string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime        string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	EngineLatency string `json:"engine_latency,omitempty" yaml:"engine_latency,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}
	base, err := resolveStatusURL(statusURL)
	if err != nil {
		return err
	}

	st := probe(cmd.Context(), base)
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), st)
	case output.FormatYAML:
		return output.PrintYAML(cmd.OutOrStdout(), st)
	default:
		return printStatusTable(cmd.OutOrStdout(), st)
	}
}

func resolveStatusURL(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return statusBaseURL(cfg), nil
}

func probe(ctx context.Context, base string) ServerStatus {
	st := ServerStatus{Message: "Server is not running"}

	var live health.Response
	if _, err := health.Fetch(ctx, base, "/health", &live); err != nil {
		st.Message = err.Error()
		return st
	}
	st.Running = true
	st.Healthy = live.Healthy()
	st.StartedAt = live.Data.StartedAt
	st.Uptime = live.Data.Uptime

	var ready health.Readiness
	code, err := health.Fetch(ctx, base, "/health/ready", &ready)
	switch {
	case err != nil:
		st.Message = fmt.Sprintf("Server is running but readiness failed: %v", err)
	case code != 200:
		st.Message = fmt.Sprintf("Server is running but not ready: %s", ready.Error)
	default:
		st.Ready = true
		st.EngineLatency = ready.Data.EngineLatency
		st.Message = "Server is running and healthy"
	}
	return st
}

func printStatusTable(w io.Writer, st ServerStatus) error {
	state := "Stopped"
	switch {
	case st.Ready:
		state = "Running"
	case st.Running:
		state = "Running (not ready)"
	}
	pairs := [][2]string{{"Status", state}}
	if st.StartedAt != "" {
		pairs = append(pairs, [2]string{"Started", timeutil.FormatTime(st.StartedAt)})
	}
	if st.Uptime != "" {
		pairs = append(pairs, [2]string{"Uptime", timeutil.FormatUptime(st.Uptime)})
	}
	if st.EngineLatency != "" {
		pairs = append(pairs, [2]string{"Event loop", st.EngineLatency})
	}
	pairs = append(pairs, [2]string{"Message", st.Message})
	return output.KeyValues(w, pairs)
}
