package cmd

import (
	"fmt"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/ui"
	"github.com/PolarWolf314/muna/internal/workflows"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configInitOpts workflows.InitConfigOptions

	// ConfigCmd groups configuration commands.
	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage muna configuration",
		Long: `Provides commands for managing the user configuration.

Examples:
  # Create a config with a fresh user ID
  muna config init --directory https://keys.example.com

  # Use the post-quantum suite and passphrase-sealed key storage
  muna config init --suite mlkem768-aes256gcm --storage sealed

  # Show the current configuration
  muna config show`,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Create or update the user configuration",
		Long: `Writes the user configuration, generating a user ID on first run.
Running it again keeps the user ID and updates only the flags you pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			Logger.Infof("Initializing user config")
			s, cleanup := startSpinner(cmd.ErrOrStderr(), "Writing configuration...")
			defer cleanup()

			res, err := workflows.InitConfig(configInitOpts)
			if err != nil {
				return fail(s, "Failed to write configuration", err)
			}

			verb := "updated"
			if res.Created {
				verb = "created"
			}
			s.FinalMSG = ui.SuccessLine("Configuration "+verb+" at "+ui.Path.Sprint(res.Path)) + "\n" +
				"    User ID:   " + ui.Highlight.Sprint(res.Config.User.ID) + "\n" +
				"    Device:    " + ui.Highlight.Sprint(res.Config.User.Device) + "\n" +
				"    Directory: " + res.Config.Directory.URL + "\n" +
				ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("muna identity register") + " to publish your identity key"
			return nil
		},
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the current configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, path, err := workflows.ShowConfig()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorLine("Failed to load configuration: "+err.Error(), hint(err)))
				return reportedError{err}
			}
			fmt.Fprintln(cmd.ErrOrStderr(), ui.Muted.Sprint(path))
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(config)
		},
	}
)

func init() {
	configInitFlags(configInitCmd.Flags())
	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

func configInitFlags(f *pflag.FlagSet) {
	f.StringVar(&configInitOpts.UserID, "user-id", "", "use this user ID instead of generating one")
	f.StringVar(&configInitOpts.Device, "device", "", "device name (defaults to the hostname)")
	f.StringVar(&configInitOpts.DirectoryURL, "directory", "", "key directory base URL")
	f.StringVar(&configInitOpts.Suite, "suite", "", fmt.Sprintf("cipher suite for new identity keys %v", cryptoprovider.Suites()))
	f.StringVar(&configInitOpts.Storage, "storage", "", "key storage backend: file, sealed or memory")
}

func resetConfigFlags() {
	configInitOpts = workflows.InitConfigOptions{}
}
