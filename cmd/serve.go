package cmd

import (
	"fmt"

	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	serveOpts workflows.ServeOptions

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run a key directory server",
		Long: `Runs the key directory that clients publish identity keys and
conversation key records to. State is kept in SQLite unless --memory is given.

Prometheus metrics are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := serveOpts
			opts.Logger = Logger
			opts.Ready = func(addr string) {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.SuccessLine("Key directory listening on "+ui.Highlight.Sprint(addr)))
			}

			if err := workflows.Serve(cmd.Context(), opts); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Key directory stopped: "+err.Error(), hint(err)))
				return reportedError{err}
			}
			return nil
		},
	}
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.Addr, "addr", "", "listen address (defaults to the config's server.addr)")
	f.StringVar(&serveOpts.Database, "db", "", "SQLite database path")
	f.BoolVar(&serveOpts.InMemory, "memory", false, "keep all state in memory")
	f.Float64Var(&serveOpts.RateLimit, "rate-limit", 0, "requests per second allowed per client")
	f.IntVar(&serveOpts.Burst, "burst", 0, "request burst allowed per client")
}

func resetServeFlags() {
	serveOpts = workflows.ServeOptions{}
}
