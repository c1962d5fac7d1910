package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/utils"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	mediaTo     string
	mediaForce  bool
	mediaDryRun bool

	// MediaCmd groups file encryption commands.
	MediaCmd = &cobra.Command{
		Use:   "media",
		Short: "Encrypt and decrypt files",
		Long: `Encrypts files into binary envelopes stored next to them with the
` + utils.EncryptedExt + ` extension, and decrypts them back.

Arguments may be files, directories or glob patterns, including **.

Examples:
  muna media encrypt photo.jpg --to 2Xb8...Qf
  muna media encrypt "albums/**/*.jpg"
  muna media decrypt albums/ --dry-run`,
	}

	mediaEncryptCmd = &cobra.Command{
		Use:   "encrypt <files...>",
		Short: "Encrypt files for a recipient",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMedia(cmd, args, true)
		},
	}

	mediaDecryptCmd = &cobra.Command{
		Use:   "decrypt <files...>",
		Short: "Decrypt " + utils.EncryptedExt + " files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMedia(cmd, args, false)
		},
	}
)

func init() {
	mediaEncryptCmd.Flags().StringVar(&mediaTo, "to", "", "recipient user ID (defaults to yourself)")
	for _, c := range []*cobra.Command{mediaEncryptCmd, mediaDecryptCmd} {
		c.Flags().BoolVarP(&mediaForce, "force", "f", false, "overwrite existing output files")
		c.Flags().BoolVar(&mediaDryRun, "dry-run", false, "list what would be written without writing")
	}

	MediaCmd.AddCommand(mediaEncryptCmd)
	MediaCmd.AddCommand(mediaDecryptCmd)
}

func runMedia(cmd *cobra.Command, args []string, encrypt bool) error {
	verb, run := "decrypt", workflows.DecryptMedia
	if encrypt {
		verb, run = "encrypt", workflows.EncryptMedia
	}
	Logger.Infof("Starting media %s for %d pattern(s)", verb, len(args))

	s, cleanup := startSpinner(cmd.ErrOrStderr(), "Processing files...")
	defer cleanup()

	env, err := openEnv(cmd.Context())
	if err != nil {
		return fail(s, "Failed to open muna", err)
	}

	wd, _ := os.Getwd()
	res, err := run(cmd.Context(), env, workflows.MediaOptions{
		FilePatterns: args,
		BaseDir:      wd,
		Recipient:    mediaTo,
		Force:        mediaForce,
		DryRun:       mediaDryRun,
	})
	if err != nil {
		return fail(s, "Failed to "+verb+" files", err)
	}

	outputs := make([]string, len(res.OutputFiles))
	for i, out := range res.OutputFiles {
		outputs[i] = relTo(wd, out)
	}
	if res.DryRun {
		s.FinalMSG = ui.Info.Sprint("ℹ") + fmt.Sprintf(" Dry run: %d file(s) would be %sed:", len(outputs), verb) + utils.FormatPaths(outputs)
	} else {
		s.FinalMSG = ui.SuccessLine(fmt.Sprintf("%sed %d file(s):", titleCase(verb), len(outputs))) + utils.FormatPaths(outputs)
	}
	return nil
}

func relTo(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func resetMediaFlags() {
	mediaTo = ""
	mediaForce = false
	mediaDryRun = false
}
