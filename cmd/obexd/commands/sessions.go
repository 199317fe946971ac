package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/obexd/internal/cli/health"
	"github.com/marmos91/obexd/internal/cli/output"
	"github.com/marmos91/obexd/internal/cli/timeutil"
	"github.com/marmos91/obexd/internal/status"
)

var (
	sessionsOutput string
	sessionsURL    string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List suspended reliable sessions",
	Long: `List the reliable sessions a running server keeps for resume.

A session is suspended when its client asks for it or when the link is lost
in the middle of a transfer. It stays resumable until it expires.

Examples:
  obexd sessions
  obexd sessions -o json`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsURL, "url", "", "Status endpoint base URL (default: from config)")
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type sessionsResponse struct {
	Status string                    `json:"status"`
	Data   []status.SuspendedSession `json:"data"`
	Error  string                    `json:"error,omitempty"`
}

// sessionList renders suspended sessions as a table.
type sessionList struct {
	items []status.SuspendedSession
	now   time.Time
}

func (l sessionList) Headers() []string {
	return []string{"Peer", "Session", "SSN", "Offset", "Link lost", "Expires"}
}

func (l sessionList) Rows() [][]string {
	rows := make([][]string, 0, len(l.items))
	for _, s := range l.items {
		rows = append(rows, []string{
			s.Peer,
			shortID(s.SessionID),
			strconv.Itoa(int(s.SSN)),
			strconv.FormatUint(uint64(s.Offset), 10),
			strconv.FormatBool(s.LinkLost),
			timeutil.FormatExpiry(s.Expires, l.now),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func runSessions(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(sessionsOutput)
	if err != nil {
		return err
	}
	base, err := resolveStatusURL(sessionsURL)
	if err != nil {
		return err
	}

	var resp sessionsResponse
	code, err := health.Fetch(cmd.Context(), base, "/sessions", &resp)
	if err != nil {
		return err
	}
	if code != 200 {
		return fmt.Errorf("list sessions: %s", resp.Error)
	}

	p := output.NewPrinter(cmd.OutOrStdout(), format, false)
	if format != output.FormatTable {
		return p.Print(resp.Data)
	}
	if len(resp.Data) == 0 {
		p.Printf("No suspended sessions\n")
		return nil
	}
	return p.Print(sessionList{items: resp.Data, now: time.Now()})
}
