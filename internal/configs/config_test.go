package configs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

func withTempSettings(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	old := UserMunaSettings
	UserMunaSettings = &UserSettings{
		UserConfigsPath: filepath.Join(tempDir, "config"),
		UserDataPath:    filepath.Join(tempDir, "data"),
		UserKeysPath:    filepath.Join(tempDir, "data", "keys"),
		AuditLogPath:    filepath.Join(tempDir, "data", "audit.jsonl"),
	}
	t.Cleanup(func() { UserMunaSettings = old })
	return tempDir
}

func TestGenerateUserUUID(t *testing.T) {
	id := GenerateUserUUID()
	if len(id) != 36 {
		t.Fatalf("Expected UUID length 36, got %d", len(id))
	}
	if id == GenerateUserUUID() {
		t.Fatal("Expected distinct UUIDs")
	}
}

func TestDefaultUserConfigIsValid(t *testing.T) {
	config := DefaultUserConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if config.Rotation.Concurrency != 8 {
		t.Errorf("Expected default concurrency 8, got %d", config.Rotation.Concurrency)
	}
}

func TestSaveAndLoadUserConfig(t *testing.T) {
	withTempSettings(t)

	config := DefaultUserConfig()
	config.User = User{ID: "user-123", Device: "laptop"}
	config.Storage.Backend = StorageSealed
	config.Retry.MaxElapsed = Duration{90 * time.Second}
	config.Rotation.Concurrency = 4

	if err := SaveUserConfig(config); err != nil {
		t.Fatalf("SaveUserConfig failed: %v", err)
	}

	info, err := os.Stat(ConfigFilePath())
	if err != nil {
		t.Fatalf("Config file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected permissions 0600, got %o", perm)
	}

	loaded, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("LoadUserConfig failed: %v", err)
	}
	if loaded.User != config.User {
		t.Errorf("Expected user %+v, got %+v", config.User, loaded.User)
	}
	if loaded.Storage.Backend != StorageSealed {
		t.Errorf("Expected sealed backend, got %q", loaded.Storage.Backend)
	}
	if loaded.Retry.MaxElapsed.Duration != 90*time.Second {
		t.Errorf("Expected max_elapsed 90s, got %v", loaded.Retry.MaxElapsed)
	}
	if loaded.Rotation.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", loaded.Rotation.Concurrency)
	}
	if p := loaded.RetryPolicy(); p.MaxElapsed != 90*time.Second || p.MaxAttempts != config.Retry.MaxAttempts {
		t.Errorf("RetryPolicy() = %+v", p)
	}
}

func TestLoadUserConfigNonExistent(t *testing.T) {
	withTempSettings(t)

	config, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("LoadUserConfig failed: %v", err)
	}
	if config.User.ID != "" {
		t.Errorf("Expected empty user ID, got %q", config.User.ID)
	}
	if config.Crypto.Suite == "" {
		t.Error("Expected defaults to be filled in")
	}
}

func TestLoadUserConfigPartialFileKeepsDefaults(t *testing.T) {
	withTempSettings(t)

	content := "[user]\nuser_id = \"u1\"\ndevice = \"desk\"\n\n[retry]\nmax_elapsed = \"1m\"\n"
	if err := os.MkdirAll(UserMunaSettings.UserConfigsPath, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigFilePath(), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("LoadUserConfig failed: %v", err)
	}
	if config.Retry.MaxElapsed.Duration != time.Minute {
		t.Errorf("Expected 1m, got %v", config.Retry.MaxElapsed)
	}
	if config.Rotation.Concurrency != 8 {
		t.Errorf("Expected default concurrency to survive, got %d", config.Rotation.Concurrency)
	}
}

func TestLoadUserConfigRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"BrokenSyntax", "[user\nuser_id = "},
		{"UnknownKey", "[user]\nemail = \"a@b.c\"\n"},
		{"BadDuration", "[retry]\nmax_elapsed = \"soon\"\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			withTempSettings(t)
			if err := os.MkdirAll(UserMunaSettings.UserConfigsPath, 0700); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(ConfigFilePath(), []byte(tc.content), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := LoadUserConfig()
			if !errors.Is(err, kerrors.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRequireUserConfig(t *testing.T) {
	withTempSettings(t)

	if _, err := RequireUserConfig(); !errors.Is(err, kerrors.ErrNotConfigured) {
		t.Fatalf("Expected ErrNotConfigured, got %v", err)
	}
	config := DefaultUserConfig()
	config.User.ID = GenerateUserUUID()
	if err := SaveUserConfig(config); err != nil {
		t.Fatal(err)
	}
	if _, err := RequireUserConfig(); err != nil {
		t.Fatalf("RequireUserConfig failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UserConfig)
	}{
		{"UnknownSuite", func(c *UserConfig) { c.Crypto.Suite = "rot13" }},
		{"UnknownBackend", func(c *UserConfig) { c.Storage.Backend = "cloud" }},
		{"RelativeURL", func(c *UserConfig) { c.Directory.URL = "/v1" }},
		{"ZeroConcurrency", func(c *UserConfig) { c.Rotation.Concurrency = 0 }},
		{"ZeroAttempts", func(c *UserConfig) { c.Rotation.MaxAttempts = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultUserConfig()
			tc.mutate(config)
			if err := config.Validate(); !errors.Is(err, kerrors.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestKeysPath(t *testing.T) {
	withTempSettings(t)

	config := DefaultUserConfig()
	if config.KeysPath() != UserMunaSettings.UserKeysPath {
		t.Errorf("Expected default keys path, got %q", config.KeysPath())
	}
	config.Storage.Path = "/srv/keys"
	if config.KeysPath() != "/srv/keys" {
		t.Errorf("Expected override, got %q", config.KeysPath())
	}
}

func TestResolveSettingsHonorsOverrides(t *testing.T) {
	t.Setenv(configDirEnv, "/etc/muna-test")
	t.Setenv(dataDirEnv, "/var/lib/muna-test")

	s := ResolveSettings()
	if s.UserConfigsPath != "/etc/muna-test" {
		t.Errorf("Expected config override, got %q", s.UserConfigsPath)
	}
	if s.UserKeysPath != filepath.Join("/var/lib/muna-test", "keys") {
		t.Errorf("Expected keys under data override, got %q", s.UserKeysPath)
	}
}
