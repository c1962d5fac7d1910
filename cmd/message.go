package cmd

import (
	"fmt"

	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	messageTo string

	// MessageCmd groups one-to-one message commands.
	MessageCmd = &cobra.Command{
		Use:   "message",
		Short: "Encrypt and decrypt text messages",
		Long: `Encrypts text for a single recipient and decrypts received envelopes.

The text is read from the first argument, or from stdin when it is piped.
Armored envelopes are written to stdout so they can be piped onward.

Examples:
  muna message encrypt --to 2Xb8...Qf "see you at 6"
  echo "see you at 6" | muna message encrypt --to 2Xb8...Qf > msg.txt
  muna message decrypt < msg.txt`,
	}

	messageEncryptCmd = &cobra.Command{
		Use:   "encrypt [text]",
		Short: "Encrypt a message for one recipient",
		Long: `Encrypts a message for the recipient's current published key.

If the recipient has not published a key, nothing is produced and the
command fails. Messages are never sent unencrypted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readArg(cmd, args)
			if err != nil {
				return err
			}

			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Encrypting message...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			armored, err := workflows.EncryptMessage(cmd.Context(), env, workflows.MessageOptions{
				Recipient: messageTo,
				Text:      text,
			})
			if err != nil {
				return fail(s, "Failed to encrypt message for "+ui.Highlight.Sprint(messageTo), err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), armored)
			s.FinalMSG = ui.SuccessLine("Encrypted for " + ui.Highlight.Sprint(messageTo))
			return nil
		},
	}

	messageDecryptCmd = &cobra.Command{
		Use:   "decrypt [armored]",
		Short: "Decrypt a received message",
		Long: `Decrypts a direct, group or conversation envelope addressed to you.

Messages sent to an older key version stay readable as long as that version
is still held on this device.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			armored, err := readArg(cmd, args)
			if err != nil {
				return err
			}

			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Decrypting message...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			plaintext, err := workflows.DecryptMessage(cmd.Context(), env, string(armored))
			if err != nil {
				return fail(s, "Failed to decrypt message", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			s.FinalMSG = ""
			return nil
		},
	}
)

func init() {
	messageEncryptCmd.Flags().StringVar(&messageTo, "to", "", "recipient user ID")
	_ = messageEncryptCmd.MarkFlagRequired("to")

	MessageCmd.AddCommand(messageEncryptCmd)
	MessageCmd.AddCommand(messageDecryptCmd)
}

func resetMessageFlags() {
	messageTo = ""
}
