package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PolarWolf314/muna/internal/audit"
	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	logOperation string
	logLimit     int
	logJSON      bool

	logCmd = &cobra.Command{
		Use:   "log",
		Short: "View the local audit log",
		Long: `Displays the operations run on this device: registrations, rotations,
group key changes and media encryption.

Examples:
  muna log                     # View full log
  muna log -n 10               # Last 10 entries
  muna log --op group-rotate   # Filter by operation
  muna log --json              # JSON output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			Logger.Infof("Reading audit log")
			entries, err := workflows.ReadLog(workflows.LogOptions{Operation: logOperation, Limit: logLimit})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Failed to read audit log: "+err.Error(), ""))
				return reportedError{err}
			}
			Logger.Debugf("Read %d entries from %s", len(entries), audit.LogPath())

			out := cmd.OutOrStdout()
			if logJSON {
				if entries == nil {
					entries = []audit.Entry{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit log entries found.")
				return nil
			}
			for _, e := range entries {
				writeLogLine(out, e)
			}
			return nil
		},
	}
)

func init() {
	logCmd.Flags().StringVar(&logOperation, "op", "", "filter by operation")
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

func writeLogLine(w io.Writer, e audit.Entry) {
	ts := e.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		ts = t.Local().Format("2006-01-02 15:04:05")
	}

	var details []string
	switch {
	case e.Conversation != "":
		details = append(details, fmt.Sprintf("%s epoch %d, %d member(s)", e.Conversation, e.Epoch, e.Members))
		if len(e.Degraded) > 0 {
			details = append(details, "skipped "+strings.Join(e.Degraded, ","))
		}
		if len(e.Pending) > 0 {
			details = append(details, "pending "+strings.Join(e.Pending, ","))
		}
	case len(e.Files) > 0:
		details = append(details, fmt.Sprintf("%d file(s)", len(e.Files)))
	case e.Version > 0:
		details = append(details, fmt.Sprintf("v%d", e.Version))
		if e.Fingerprint != "" {
			details = append(details, ui.Fingerprint.Sprint(e.Fingerprint))
		}
	}

	status := ""
	if e.Error != "" {
		status = " " + ui.Error.Sprint("failed: "+e.Error)
	}
	fmt.Fprintf(w, "%s  %-14s %s%s\n", ui.Muted.Sprint(ts), e.Operation, strings.Join(details, "  "), status)
}

func resetLogFlags() {
	logOperation = ""
	logLimit = 0
	logJSON = false
}
