package configs

import (
	"os"
	"path/filepath"
)

const (
	configDirEnv = "MUNA_CONFIG_DIR"
	dataDirEnv   = "MUNA_DATA_DIR"
)

type UserSettings struct {
	UserConfigsPath string
	UserDataPath    string
	UserKeysPath    string
	AuditLogPath    string
}

var UserMunaSettings *UserSettings

func init() {
	UserMunaSettings = ResolveSettings()
}

// ResolveSettings computes paths from the environment. Unresolvable
// directories fall back to the working directory.
func ResolveSettings() *UserSettings {
	configDir := os.Getenv(configDirEnv)
	if configDir == "" {
		if base, err := os.UserConfigDir(); err == nil {
			configDir = filepath.Join(base, "muna")
		} else {
			configDir = ".muna"
		}
	}

	dataDir := os.Getenv(dataDirEnv)
	if dataDir == "" {
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			if home, err := os.UserHomeDir(); err == nil {
				base = filepath.Join(home, ".local", "share")
			}
		}
		if base != "" {
			dataDir = filepath.Join(base, "muna")
		} else {
			dataDir = ".muna"
		}
	}

	return &UserSettings{
		UserConfigsPath: configDir,
		UserDataPath:    dataDir,
		UserKeysPath:    filepath.Join(dataDir, "keys"),
		AuditLogPath:    filepath.Join(dataDir, "audit.jsonl"),
	}
}

// ConfigFilePath returns the path of the user config file.
func ConfigFilePath() string {
	return filepath.Join(UserMunaSettings.UserConfigsPath, "config.toml")
}
