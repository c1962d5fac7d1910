package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	groupSetMembers    []string
	groupForce         bool
	groupRetry         bool
	groupKeyOutput     string
	groupMembers       []string
	groupAllowDegraded bool

	// GroupCmd groups conversation key commands.
	GroupCmd = &cobra.Command{
		Use:   "group",
		Short: "Manage group conversation keys",
		Long: `Manages the shared key of a group conversation.

Each rotation creates a new epoch key and stores one copy of it per member,
wrapped for that member's identity key. Messages are encrypted once with
the epoch key.

Examples:
  muna group members team --set alice,bob,carol
  muna group rotate team
  muna group encrypt team "standup moved to 10"
  muna group encrypt --members alice,bob "one-off message"`,
	}

	groupMembersCmd = &cobra.Command{
		Use:   "members <conversation>",
		Short: "Show or set the members of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := args[0]
			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Loading members...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}

			if cmd.Flags().Changed("set") {
				members, err := workflows.SetMembers(cmd.Context(), env, conv, groupSetMembers)
				if err != nil {
					return fail(s, "Failed to set members of "+ui.Highlight.Sprint(conv), err)
				}
				s.FinalMSG = ui.SuccessLine(fmt.Sprintf("Set %d member(s) of %s", len(members), ui.Highlight.Sprint(conv))) + "\n" +
					ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("muna group rotate "+conv) + " to issue a key for them"
				return nil
			}

			members, err := workflows.Members(cmd.Context(), env, conv)
			if err != nil {
				return fail(s, "Failed to read members of "+ui.Highlight.Sprint(conv), err)
			}
			s.FinalMSG = ""
			for _, m := range members {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}

	groupRotateCmd = &cobra.Command{
		Use:   "rotate <conversation>",
		Short: "Issue a new epoch key to the current members",
		Long: `Creates a new epoch key for the conversation's current members. If the
latest epoch already covers exactly those members it is reused unless
--force is given. An epoch whose records were only partly stored is
completed for the missing members instead of being replaced.

Members without a published key are skipped and reported. If some records
could not be stored, the epoch still exists and the missing members are
listed; --retry stores them once more before returning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := args[0]
			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Rotating group key...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			res, err := workflows.RotateGroup(cmd.Context(), env, workflows.RotateGroupOptions{
				ConversationID: conv,
				Force:          groupForce,
				RetryPending:   groupRetry,
			})
			if err != nil {
				return fail(s, "Failed to rotate key of "+ui.Highlight.Sprint(conv), err)
			}

			var b strings.Builder
			switch {
			case res.Created:
				b.WriteString(ui.SuccessLine(fmt.Sprintf("Epoch %d issued to %d member(s)", res.Epoch, len(res.Wrapped))))
			case res.Resumed:
				b.WriteString(ui.SuccessLine(fmt.Sprintf("Epoch %d completed for %d member(s)", res.Epoch, len(res.Wrapped))))
			default:
				b.WriteString(ui.SuccessLine(fmt.Sprintf("Epoch %d already covers the current members", res.Epoch)))
			}
			if len(res.Degraded) > 0 {
				b.WriteString("\n" + ui.WarningLine("No published key, skipped: "+strings.Join(res.Degraded, ", ")))
			}
			if !res.Complete() {
				b.WriteString("\n" + ui.WarningLine("Not stored yet: "+strings.Join(res.Pending, ", ")))
				b.WriteString("\n" + ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("muna group rotate "+conv+" --retry") + " to try again")
			}
			s.FinalMSG = b.String()
			return nil
		},
	}

	groupKeyCmd = &cobra.Command{
		Use:   "key <conversation>",
		Short: "Show your latest epoch key for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Failed to open muna: "+err.Error(), hint(err)))
				return reportedError{err}
			}
			info, err := workflows.GroupKey(cmd.Context(), env, args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Failed to read key of "+ui.Highlight.Sprint(args[0])+": "+err.Error(), hint(err)))
				return reportedError{err}
			}
			return renderGroupKey(cmd, info)
		},
	}

	groupEncryptCmd = &cobra.Command{
		Use:   "encrypt [conversation] [text]",
		Short: "Encrypt a message for a conversation",
		Long: `Encrypts a message with the conversation's latest epoch key.

With --members, the message is instead encrypted once and its key wrapped
for each listed user directly; no conversation is needed. If a listed user
has no published key the command fails unless --allow-degraded is given.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := workflows.GroupMessageOptions{
				Members:       groupMembers,
				AllowDegraded: groupAllowDegraded,
			}
			if len(groupMembers) == 0 {
				if len(args) == 0 {
					return Logger.ErrorfAndReturn("a conversation ID or %s is required", ui.Flag.Sprint("--members"))
				}
				opts.ConversationID, args = args[0], args[1:]
			}
			text, err := readArg(cmd, args)
			if err != nil {
				return err
			}
			opts.Text = text

			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Encrypting group message...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			res, err := workflows.EncryptGroupMessage(cmd.Context(), env, opts)
			if err != nil {
				return fail(s, "Failed to encrypt group message", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Armored)
			if res.Epoch > 0 {
				s.FinalMSG = ui.SuccessLine(fmt.Sprintf("Encrypted with epoch %d of %s", res.Epoch, ui.Highlight.Sprint(opts.ConversationID)))
			} else {
				s.FinalMSG = ui.SuccessLine(fmt.Sprintf("Encrypted for %d member(s)", len(groupMembers)-len(res.Degraded)))
			}
			if len(res.Degraded) > 0 {
				s.FinalMSG += "\n" + ui.WarningLine("Not encrypted for: "+strings.Join(res.Degraded, ", "))
			}
			return nil
		},
	}

	groupDecryptCmd = &cobra.Command{
		Use:   "decrypt [armored]",
		Short: "Decrypt a group message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			armored, err := readArg(cmd, args)
			if err != nil {
				return err
			}

			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Decrypting group message...")
			defer cleanup()

			env, err := openEnv(cmd.Context())
			if err != nil {
				return fail(s, "Failed to open muna", err)
			}
			plaintext, err := workflows.DecryptGroupMessage(cmd.Context(), env, string(armored))
			if err != nil {
				return fail(s, "Failed to decrypt group message", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			s.FinalMSG = ""
			return nil
		},
	}
)

func init() {
	groupMembersCmd.Flags().StringSliceVar(&groupSetMembers, "set", nil, "replace the member list (comma-separated user IDs)")
	groupRotateCmd.Flags().BoolVarP(&groupForce, "force", "f", false, "create a new epoch even if membership is unchanged")
	groupRotateCmd.Flags().BoolVar(&groupRetry, "retry", false, "store records for pending members once more")
	groupKeyCmd.Flags().StringVarP(&groupKeyOutput, "output", "o", workflows.FormatText, "output format: text, json or yaml")
	groupEncryptCmd.Flags().StringSliceVar(&groupMembers, "members", nil, "encrypt directly for these user IDs")
	groupEncryptCmd.Flags().BoolVar(&groupAllowDegraded, "allow-degraded", false, "send to the members that have keys when some do not")

	GroupCmd.AddCommand(groupMembersCmd)
	GroupCmd.AddCommand(groupRotateCmd)
	GroupCmd.AddCommand(groupKeyCmd)
	GroupCmd.AddCommand(groupEncryptCmd)
	GroupCmd.AddCommand(groupDecryptCmd)
}

func renderGroupKey(cmd *cobra.Command, info *workflows.GroupKeyInfo) error {
	out := cmd.OutOrStdout()
	switch groupKeyOutput {
	case workflows.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case workflows.FormatYAML:
		return yaml.NewEncoder(out).Encode(info)
	case workflows.FormatText, "":
		usable := ui.Success.Sprint("usable")
		if !info.Usable {
			usable = ui.Error.Sprint("cannot be unwrapped")
		}
		fmt.Fprintf(out, "Conversation: %s\n", ui.Highlight.Sprint(info.ConversationID))
		fmt.Fprintf(out, "Epoch:        %d\n", info.Epoch)
		fmt.Fprintf(out, "Key version:  %d\n", info.KeyVersion)
		fmt.Fprintf(out, "Created:      %s\n", info.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(out, "Status:       %s\n", usable)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", groupKeyOutput)
	}
}

func resetGroupFlags() {
	groupSetMembers = nil
	groupForce = false
	groupRetry = false
	groupKeyOutput = workflows.FormatText
	groupMembers = nil
	groupAllowDegraded = false
}
