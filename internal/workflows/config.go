package workflows

import (
	"fmt"
	"os"

	"github.com/PolarWolf314/muna/internal/configs"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/utils"
)

// InitConfigOptions configures `muna config init`. Empty fields keep the
// existing or default value.
type InitConfigOptions struct {
	UserID       string
	Device       string
	DirectoryURL string
	Suite        string
	Storage      string
}

// InitConfigResult contains the outcome of InitConfig.
type InitConfigResult struct {
	Config *configs.UserConfig
	Path   string
	// Created is true when no config file existed before.
	Created bool
}

// InitConfig writes the user config, generating a user ID on first run.
//
// Returns ErrInvalidConfig if the resulting config does not validate.
func InitConfig(opts InitConfigOptions) (*InitConfigResult, error) {
	path := configs.ConfigFilePath()
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	config, err := configs.LoadUserConfig()
	if err != nil {
		return nil, err
	}

	if opts.UserID != "" {
		config.User.ID = opts.UserID
	}
	if config.User.ID == "" {
		config.User.ID = configs.GenerateUserUUID()
	}
	if opts.Device != "" {
		if !utils.IsValidDeviceName(opts.Device) {
			return nil, fmt.Errorf("%w: device name %q", kerrors.ErrInvalidConfig, opts.Device)
		}
		config.User.Device = opts.Device
	}
	if config.User.Device == "" {
		config.User.Device = utils.DefaultDeviceName()
	}
	if opts.DirectoryURL != "" {
		config.Directory.URL = opts.DirectoryURL
	}
	if opts.Suite != "" {
		config.Crypto.Suite = opts.Suite
	}
	if opts.Storage != "" {
		config.Storage.Backend = opts.Storage
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := configs.SaveUserConfig(config); err != nil {
		return nil, err
	}

	return &InitConfigResult{Config: config, Path: path, Created: created}, nil
}

// ShowConfig returns the loaded user config and its path.
func ShowConfig() (*configs.UserConfig, string, error) {
	config, err := configs.RequireUserConfig()
	if err != nil {
		return nil, "", err
	}
	return config, configs.ConfigFilePath(), nil
}
