package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/PolarWolf314/muna/internal/identity"
	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	statusOutput string
	eraseYes     bool

	// IdentityCmd groups identity key lifecycle commands.
	IdentityCmd = &cobra.Command{
		Use:   "identity",
		Short: "Manage your identity key pair",
		Long: `Register, rotate, inspect and erase the identity key pair on this device.

The private key never leaves this device. Older versions are kept after a
rotation so earlier messages stay readable; erasing removes all of them.`,
	}

	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "Create and publish your identity key",
		Long: `Generates an identity key pair, stores the private key on this device and
publishes the public key. If an earlier attempt was interrupted, the stored
key is published instead of generating another. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Registering identity...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			res, err := workflows.Register(cmd.Context(), env)
			if err != nil {
				return fail(s, "Failed to register identity", err)
			}
			s.FinalMSG = describeRegistration("Identity registered", res)
			return nil
		},
	}

	rotateCmd = &cobra.Command{
		Use:   "rotate",
		Short: "Replace your identity key with a new version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Rotating identity key...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			res, err := workflows.Rotate(cmd.Context(), env)
			if err != nil {
				return fail(s, "Failed to rotate identity", err)
			}
			s.FinalMSG = describeRegistration("Identity rotated", res) + "\n" +
				ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("muna group rotate <conversation>") +
				" so your groups use the new key"
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of your identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Failed to open muna: "+err.Error(), hint(err)))
				return reportedError{err}
			}
			st, err := workflows.Status(cmd.Context(), env)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Failed to read identity state: "+err.Error(), hint(err)))
				return reportedError{err}
			}
			out, err := workflows.RenderState(st, statusOutput)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	eraseCmd = &cobra.Command{
		Use:   "erase",
		Short: "Permanently delete every identity key on this device",
		Long: `Deletes every private key version held on this device. Messages encrypted
to those keys can no longer be read here. This cannot be undone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !eraseYes && !confirm(cmd, "Erase all identity keys on this device? This cannot be undone. [y/N] ") {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.WarningLine("Aborted; nothing was erased"))
				return nil
			}

			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Erasing identity...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			if err := workflows.Erase(cmd.Context(), env); err != nil {
				return fail(s, "Failed to erase identity", err)
			}
			s.FinalMSG = ui.SuccessLine("Identity erased from this device")
			return nil
		},
	}
)

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", workflows.FormatText, "output format: text, json or yaml")
	eraseCmd.Flags().BoolVarP(&eraseYes, "yes", "y", false, "skip the confirmation prompt")

	IdentityCmd.AddCommand(registerCmd)
	IdentityCmd.AddCommand(rotateCmd)
	IdentityCmd.AddCommand(statusCmd)
	IdentityCmd.AddCommand(eraseCmd)
}

func describeRegistration(title string, res *identity.RegisterResult) string {
	msg := ui.SuccessLine(fmt.Sprintf("%s (version %d)", title, res.Version)) + "\n" +
		"    Fingerprint: " + ui.Fingerprint.Sprint(res.Fingerprint)
	switch {
	case res.Reslotted:
		msg += "\n" + ui.WarningLine("Another device published first; your key was moved to the version the directory assigned")
	case res.Resumed:
		msg += "\n" + ui.Muted.Sprint("resumed an interrupted registration")
	case !res.Generated:
		msg += "\n" + ui.Muted.Sprint("already registered, nothing to do")
	}
	return msg
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func resetIdentityFlags() {
	statusOutput = workflows.FormatText
	eraseYes = false
}
