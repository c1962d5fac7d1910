package configs

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/retry"

	"github.com/google/uuid"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSealed = "sealed"
	StorageMemory = "memory"
)

type UserConfig struct {
	User      User      `toml:"user"`
	Directory Directory `toml:"directory"`
	Crypto    Crypto    `toml:"crypto"`
	Storage   Storage   `toml:"storage"`
	Rotation  Rotation  `toml:"rotation"`
	Retry     Retry     `toml:"retry"`
	Server    Server    `toml:"server"`
}

type User struct {
	ID     string `toml:"user_id"`
	Device string `toml:"device"`
}

type Directory struct {
	URL string `toml:"url"`
}

type Crypto struct {
	Suite string `toml:"suite"`
}

type Storage struct {
	Backend string `toml:"backend"`
	// Path overrides the key directory; empty means UserMunaSettings.UserKeysPath.
	Path string `toml:"path,omitempty"`
}

type Rotation struct {
	Concurrency int `toml:"concurrency"`
	MaxAttempts int `toml:"max_attempts"`
}

type Retry struct {
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	MaxElapsed      Duration `toml:"max_elapsed"`
	MaxAttempts     uint64   `toml:"max_attempts"`
}

type Server struct {
	Addr      string  `toml:"addr"`
	Database  string  `toml:"database,omitempty"`
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultUserConfig returns a config with every default filled in and no user ID.
func DefaultUserConfig() *UserConfig {
	p := retry.DefaultPolicy()
	return &UserConfig{
		Directory: Directory{URL: "http://127.0.0.1:8484"},
		Crypto:    Crypto{Suite: cryptoprovider.DefaultSuite},
		Storage:   Storage{Backend: StorageFile},
		Rotation:  Rotation{Concurrency: 8, MaxAttempts: 3},
		Retry: Retry{
			InitialInterval: Duration{p.InitialInterval},
			MaxInterval:     Duration{p.MaxInterval},
			MaxElapsed:      Duration{p.MaxElapsed},
			MaxAttempts:     p.MaxAttempts,
		},
		Server: Server{Addr: "127.0.0.1:8484", RateLimit: 50, Burst: 100},
	}
}

// LoadUserConfig loads the user configuration, returning defaults when no file exists.
func LoadUserConfig() (*UserConfig, error) {
	config := DefaultUserConfig()

	if _, err := os.Stat(ConfigFilePath()); os.IsNotExist(err) {
		return config, nil
	}

	if err := LoadTOML(ConfigFilePath(), config); err != nil {
		return nil, fmt.Errorf("%w: failed to load user config: %v", kerrors.ErrInvalidConfig, err)
	}

	return config, nil
}

// SaveUserConfig saves the user configuration to the config file.
func SaveUserConfig(config *UserConfig) error {
	if err := SaveTOML(ConfigFilePath(), config); err != nil {
		return fmt.Errorf("failed to save user config: %w", err)
	}
	return nil
}

// GenerateUserUUID generates a new UUID for the user.
func GenerateUserUUID() string {
	return uuid.New().String()
}

// RequireUserConfig loads a config that `muna config init` has already written.
func RequireUserConfig() (*UserConfig, error) {
	if _, err := os.Stat(ConfigFilePath()); os.IsNotExist(err) {
		return nil, kerrors.ErrNotConfigured
	}
	config, err := LoadUserConfig()
	if err != nil {
		return nil, err
	}
	if config.User.ID == "" {
		return nil, kerrors.ErrNotConfigured
	}
	return config, config.Validate()
}

// Validate checks the values a command depends on.
func (c *UserConfig) Validate() error {
	if _, err := cryptoprovider.New(c.Crypto.Suite); err != nil {
		return fmt.Errorf("%w: crypto.suite: %v", kerrors.ErrInvalidConfig, err)
	}
	switch c.Storage.Backend {
	case StorageFile, StorageSealed, StorageMemory:
	default:
		return fmt.Errorf("%w: storage.backend %q (want file, sealed or memory)", kerrors.ErrInvalidConfig, c.Storage.Backend)
	}
	if u, err := url.Parse(c.Directory.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: directory.url %q", kerrors.ErrInvalidConfig, c.Directory.URL)
	}
	if c.Rotation.Concurrency < 1 {
		return fmt.Errorf("%w: rotation.concurrency must be at least 1", kerrors.ErrInvalidConfig)
	}
	if c.Rotation.MaxAttempts < 1 {
		return fmt.Errorf("%w: rotation.max_attempts must be at least 1", kerrors.ErrInvalidConfig)
	}
	return nil
}

// RetryPolicy converts the [retry] section.
func (c *UserConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		InitialInterval: c.Retry.InitialInterval.Duration,
		MaxInterval:     c.Retry.MaxInterval.Duration,
		MaxElapsed:      c.Retry.MaxElapsed.Duration,
		MaxAttempts:     c.Retry.MaxAttempts,
	}
}

// KeysPath is where file-backed key storage lives.
func (c *UserConfig) KeysPath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return UserMunaSettings.UserKeysPath
}
