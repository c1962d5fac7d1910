package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/keystore"
	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/utils"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// startSpinner starts a spinner on w unless verbose or debug output is on.
// The returned cleanup stops it and prints FinalMSG with a trailing newline.
func startSpinner(w io.Writer, message string) (*spinner.Spinner, func()) {
	opts := []spinner.Option{spinner.WithWriter(w)}
	if f, ok := w.(*os.File); ok {
		opts = append(opts, spinner.WithWriterFile(f))
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, opts...)
	s.Suffix = " " + message
	_ = s.Color("cyan")

	quiet := !verbose && !debug
	if quiet {
		s.Start()
	} else {
		Logger.Infof("%s", message)
	}

	cleanup := func() {
		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			s.FinalMSG = ""
		}
		if quiet {
			s.Stop()
		}
		if finalMsg != "" {
			fmt.Fprint(w, finalMsg)
		}
	}
	return s, cleanup
}

// openEnv builds the workflow environment for the configured user.
func openEnv(ctx context.Context) (*workflows.Env, error) {
	return workflows.Open(ctx, workflows.EnvOptions{Logger: Logger})
}

// fail records err as the spinner's final message and marks it reported.
func fail(s *spinner.Spinner, msg string, err error) error {
	Logger.Errorf("%s: %v", msg, err)
	s.FinalMSG = ui.ErrorLine(msg+": "+err.Error(), hint(err))
	return reportedError{err}
}

// hint suggests a next step for errors the user can act on.
func hint(err error) string {
	switch {
	case errors.Is(err, kerrors.ErrNotConfigured):
		return "Run " + ui.Code.Sprint("muna config init") + " first"
	case errors.Is(err, kerrors.ErrInvalidConfig):
		return "Fix the value with " + ui.Code.Sprint("muna config init") + " flags"
	case errors.Is(err, kerrors.ErrNoLocalIdentity):
		return "Run " + ui.Code.Sprint("muna identity register") + " to create an identity on this device"
	case errors.Is(err, kerrors.ErrRecipientKeyUnavailable):
		return "The recipient has not registered a key; nothing was sent"
	case errors.Is(err, kerrors.ErrKeyVersionMissing):
		return "This device does not hold the key this content was encrypted to"
	case errors.Is(err, kerrors.ErrTamperOrCorruption):
		return "The content failed authentication and must not be trusted"
	case errors.Is(err, kerrors.ErrNotMember):
		return "Ask a member to run " + ui.Code.Sprint("muna group rotate") + " after adding you"
	case errors.Is(err, kerrors.ErrMembershipChanged):
		return "Membership kept changing during the rotation; try again"
	case errors.Is(err, kerrors.ErrDirectoryOrStoreFailure):
		return "Check that the key directory is reachable (" + ui.Code.Sprint("muna serve") + " runs one locally)"
	case errors.Is(err, keystore.ErrWrongPassphrase):
		return "Check the passphrase for your sealed key storage"
	case errors.Is(err, kerrors.ErrNoFilesFound):
		return "Check the file patterns; encrypted files end in .muna"
	}
	return ""
}

// readArg returns args[0], or the command's input when it is not a terminal.
func readArg(cmd *cobra.Command, args []string) ([]byte, error) {
	if in := cmd.InOrStdin(); len(args) == 0 && in != os.Stdin {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("no input provided")
		}
		return data, nil
	}
	return utils.ReadInput(args)
}
