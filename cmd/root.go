// Package cmd implements the muna command tree. Commands parse flags, call
// a workflow and format its result; the logic lives in internal/workflows.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/ui"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	verbose bool
	debug   bool
	Logger  logger.Logger

	RootCmd = &cobra.Command{
		Use:   "muna",
		Short: "End-to-end encryption for direct and group conversations",
		Long: `muna encrypts messages and media so the services that store and route
them never see plaintext.

Each user publishes an identity public key to a key directory. Messages are
encrypted to a fresh symmetric key which is wrapped to the recipient's key;
groups share an epoch key wrapped once per member.

Getting started:
  muna config init --directory http://127.0.0.1:8484
  muna identity register
  muna message encrypt --to <user-id> "hello"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
				Out:     cmd.ErrOrStderr(),
				ErrOut:  cmd.ErrOrStderr(),
			}
			Logger.Debugf("Running %s with verbose=%t, debug=%t", cmd.CommandPath(), verbose, debug)
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), figure.NewFigure("muna", "small", true).String())
			fmt.Fprintln(cmd.OutOrStdout(), "Run "+ui.Code.Sprint("muna --help")+" to see available commands.")
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")

	RootCmd.AddCommand(ConfigCmd)
	RootCmd.AddCommand(IdentityCmd)
	RootCmd.AddCommand(MessageCmd)
	RootCmd.AddCommand(MediaCmd)
	RootCmd.AddCommand(GroupCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(logCmd)
}

// reportedError marks an error whose explanation was already printed.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error { return e.error }

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	err := RootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reported reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintln(os.Stderr, ui.ErrorLine(err.Error(), ""))
	}
	return 1
}

// ResetGlobalState resets flag variables between test runs.
func ResetGlobalState() {
	verbose = false
	debug = false
	resetConfigFlags()
	resetIdentityFlags()
	resetMessageFlags()
	resetMediaFlags()
	resetGroupFlags()
	resetServeFlags()
	resetLogFlags()
	clearChanged(RootCmd)
}

// clearChanged forgets which flags were set by an earlier Execute.
func clearChanged(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	c.PersistentFlags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	for _, sub := range c.Commands() {
		clearChanged(sub)
	}
}
