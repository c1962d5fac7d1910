package workflows

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PolarWolf314/muna/internal/audit"
	"github.com/PolarWolf314/muna/internal/configs"
	"github.com/PolarWolf314/muna/internal/directory"
	"github.com/PolarWolf314/muna/internal/envelope"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/identity"
	"github.com/PolarWolf314/muna/internal/keystore"
)

type testWorld struct {
	t       *testing.T
	dir     string
	backend *directory.Memory
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	dir := t.TempDir()
	original := configs.UserMunaSettings
	configs.UserMunaSettings = &configs.UserSettings{
		UserConfigsPath: filepath.Join(dir, "config"),
		UserDataPath:    filepath.Join(dir, "data"),
		UserKeysPath:    filepath.Join(dir, "data", "keys"),
		AuditLogPath:    filepath.Join(dir, "data", "audit.jsonl"),
	}
	t.Cleanup(func() { configs.UserMunaSettings = original })
	return &testWorld{t: t, dir: dir, backend: directory.NewMemory()}
}

// open configures userID and returns an Env over the shared directory.
func (w *testWorld) open(userID string) *Env {
	w.t.Helper()
	if _, err := InitConfig(InitConfigOptions{UserID: userID, Device: "test"}); err != nil {
		w.t.Fatalf("InitConfig(%s) failed: %v", userID, err)
	}
	env, err := Open(context.Background(), EnvOptions{Backend: w.backend, Storage: keystore.NewMemoryStorage()})
	if err != nil {
		w.t.Fatalf("Open(%s) failed: %v", userID, err)
	}
	return env
}

func (w *testWorld) register(userID string) *Env {
	w.t.Helper()
	env := w.open(userID)
	if _, err := Register(context.Background(), env); err != nil {
		w.t.Fatalf("Register(%s) failed: %v", userID, err)
	}
	return env
}

func TestInitConfig(t *testing.T) {
	newTestWorld(t)

	first, err := InitConfig(InitConfigOptions{Device: "laptop"})
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !first.Created || first.Config.User.ID == "" {
		t.Fatalf("Expected a new config with a user ID, got %+v", first)
	}

	second, err := InitConfig(InitConfigOptions{DirectoryURL: "https://keys.example.com"})
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if second.Created {
		t.Error("Expected second InitConfig to update, not create")
	}
	if second.Config.User.ID != first.Config.User.ID {
		t.Errorf("Expected user ID to be kept, got %q and %q", first.Config.User.ID, second.Config.User.ID)
	}
	if second.Config.Directory.URL != "https://keys.example.com" {
		t.Errorf("Expected directory URL to be updated, got %q", second.Config.Directory.URL)
	}

	config, path, err := ShowConfig()
	if err != nil {
		t.Fatalf("ShowConfig failed: %v", err)
	}
	if path != second.Path || config.User.Device != "laptop" {
		t.Errorf("ShowConfig() = %+v, %q", config.User, path)
	}
}

func TestInitConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts InitConfigOptions
	}{
		{"DeviceName", InitConfigOptions{Device: "my laptop!"}},
		{"Suite", InitConfigOptions{Suite: "rot13"}},
		{"Storage", InitConfigOptions{Storage: "cloud"}},
		{"DirectoryURL", InitConfigOptions{DirectoryURL: "not a url"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			newTestWorld(t)
			if _, err := InitConfig(tc.opts); !errors.Is(err, kerrors.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestOpen_NotConfigured(t *testing.T) {
	newTestWorld(t)

	if _, err := Open(context.Background(), EnvOptions{}); !errors.Is(err, kerrors.ErrNotConfigured) {
		t.Fatalf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestRegisterAndStatus(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	env := w.open("alice")

	st, err := Status(ctx, env)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status != identity.StatusUnregistered {
		t.Errorf("Expected unregistered, got %s", st.Status)
	}

	res, err := Register(ctx, env)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Version != 1 || !res.Generated {
		t.Errorf("Unexpected register result: %+v", res)
	}
	again, err := Register(ctx, env)
	if err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	if again.Version != 1 || again.Generated {
		t.Errorf("Expected second Register to be a no-op, got %+v", again)
	}

	st, err = Status(ctx, env)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status != identity.StatusActive || st.Version != 1 {
		t.Errorf("Expected active v1, got %+v", st)
	}

	entries, err := audit.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Operation != audit.OpRegister || entries[0].Fingerprint == "" {
		t.Errorf("Expected two register audit entries, got %+v", entries)
	}
}

func TestRenderState(t *testing.T) {
	st := identity.State{UserID: "alice", Status: identity.StatusActive, Suite: "s", Version: 2, Published: 2, Retained: []int{1}}

	tests := []struct {
		format string
		want   string
	}{
		{FormatText, "Retained:    1"},
		{FormatJSON, `"status": "active"`},
		{FormatYAML, "status: active"},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			out, err := RenderState(st, tc.format)
			if err != nil {
				t.Fatalf("RenderState failed: %v", err)
			}
			if !strings.Contains(out, tc.want) {
				t.Errorf("Expected %q in:\n%s", tc.want, out)
			}
		})
	}

	if _, err := RenderState(st, "xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")
	bob := w.register("bob")

	armored, err := EncryptMessage(ctx, alice, MessageOptions{Recipient: "bob", Text: []byte("hi bob")})
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}
	if strings.Contains(armored, "hi bob") {
		t.Fatal("Armored envelope contains plaintext")
	}

	got, err := DecryptMessage(ctx, bob, armored+"\n")
	if err != nil {
		t.Fatalf("DecryptMessage failed: %v", err)
	}
	if got != "hi bob" {
		t.Errorf("Expected %q, got %q", "hi bob", got)
	}

	if _, err := DecryptMessage(ctx, alice, armored); err == nil {
		t.Error("Expected the sender to be unable to decrypt a message for bob")
	}
}

func TestEncryptMessage_BlocksUnregisteredRecipient(t *testing.T) {
	w := newTestWorld(t)
	alice := w.register("alice")

	for _, recipient := range []string{"carol", ""} {
		_, err := EncryptMessage(context.Background(), alice, MessageOptions{Recipient: recipient, Text: []byte("x")})
		if !errors.Is(err, kerrors.ErrRecipientKeyUnavailable) {
			t.Errorf("EncryptMessage(%q) error = %v, want ErrRecipientKeyUnavailable", recipient, err)
		}
	}
}

func TestRotateKeepsOldMessagesReadable(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")
	bob := w.register("bob")

	before, err := EncryptMessage(ctx, alice, MessageOptions{Recipient: "bob", Text: []byte("v1")})
	if err != nil {
		t.Fatal(err)
	}
	res, err := Rotate(ctx, bob)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if res.Version != 2 {
		t.Errorf("Expected version 2, got %d", res.Version)
	}
	after, err := EncryptMessage(ctx, alice, MessageOptions{Recipient: "bob", Text: []byte("v2")})
	if err != nil {
		t.Fatal(err)
	}

	for armored, want := range map[string]string{before: "v1", after: "v2"} {
		got, err := DecryptMessage(ctx, bob, armored)
		if err != nil {
			t.Fatalf("DecryptMessage failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

func TestEraseMakesMessagesUnreadable(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")
	bob := w.register("bob")

	armored, err := EncryptMessage(ctx, alice, MessageOptions{Recipient: "bob", Text: []byte("gone")})
	if err != nil {
		t.Fatal(err)
	}
	if err := Erase(ctx, bob); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}

	_, err = DecryptMessage(ctx, bob, armored)
	if !errors.Is(err, kerrors.ErrNoLocalIdentity) && !errors.Is(err, kerrors.ErrKeyVersionMissing) {
		t.Errorf("Expected ErrNoLocalIdentity or ErrKeyVersionMissing, got %v", err)
	}
	if _, err := Rotate(ctx, bob); !errors.Is(err, kerrors.ErrNoLocalIdentity) {
		t.Errorf("Expected Rotate after erase to fail with ErrNoLocalIdentity, got %v", err)
	}
}

func TestMediaRoundTrip(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")

	mediaDir := filepath.Join(w.dir, "media")
	if err := os.MkdirAll(filepath.Join(mediaDir, "album"), 0700); err != nil {
		t.Fatal(err)
	}
	contents := map[string][]byte{
		filepath.Join(mediaDir, "a.png"):          {0x89, 'P', 'N', 'G', 0, 1, 2},
		filepath.Join(mediaDir, "album", "b.jpg"): bytes.Repeat([]byte{0xff}, 4096),
	}
	for path, data := range contents {
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
	}

	opts := MediaOptions{FilePatterns: []string{"**/*.{png,jpg}"}, BaseDir: mediaDir}

	dry, err := EncryptMedia(ctx, alice, MediaOptions{FilePatterns: opts.FilePatterns, BaseDir: mediaDir, DryRun: true})
	if err != nil {
		t.Fatalf("EncryptMedia dry run failed: %v", err)
	}
	if len(dry.OutputFiles) != 2 {
		t.Fatalf("Expected 2 planned outputs, got %v", dry.OutputFiles)
	}
	if _, err := os.Stat(dry.OutputFiles[0]); !os.IsNotExist(err) {
		t.Fatal("Dry run wrote a file")
	}

	enc, err := EncryptMedia(ctx, alice, opts)
	if err != nil {
		t.Fatalf("EncryptMedia failed: %v", err)
	}
	if _, err := EncryptMedia(ctx, alice, opts); err == nil {
		t.Error("Expected EncryptMedia to refuse to overwrite without force")
	}

	for path := range contents {
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}
	}

	dec, err := DecryptMedia(ctx, alice, MediaOptions{FilePatterns: []string{"."}, BaseDir: mediaDir})
	if err != nil {
		t.Fatalf("DecryptMedia failed: %v", err)
	}
	if len(dec.OutputFiles) != len(enc.OutputFiles) {
		t.Fatalf("Expected %d decrypted files, got %d", len(enc.OutputFiles), len(dec.OutputFiles))
	}
	for path, want := range contents {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Reading %s: %v", path, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s content mismatch", path)
		}
	}
}

func TestDecryptMedia_Tampered(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")

	src := filepath.Join(w.dir, "note.bin")
	if err := os.WriteFile(src, []byte("secret bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := EncryptMedia(ctx, alice, MediaOptions{FilePatterns: []string{src}}); err != nil {
		t.Fatalf("EncryptMedia failed: %v", err)
	}
	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}

	encPath := src + ".muna"
	data, err := os.ReadFile(encPath)
	if err != nil {
		t.Fatal(err)
	}
	env, err := envelope.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	env.Ciphertext[0] ^= 0x01
	if err := os.WriteFile(encPath, mustMarshal(t, env), 0600); err != nil {
		t.Fatal(err)
	}

	_, err = DecryptMedia(ctx, alice, MediaOptions{FilePatterns: []string{encPath}})
	if !errors.Is(err, kerrors.ErrTamperOrCorruption) {
		t.Fatalf("Expected ErrTamperOrCorruption, got %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Tampered file produced output")
	}
}

func TestGroupWorkflow(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")
	bob := w.register("bob")

	if _, err := SetMembers(ctx, alice, "book-club", []string{"bob", "alice", "bob"}); !errors.Is(err, kerrors.ErrDuplicateMember) {
		t.Fatalf("Expected ErrDuplicateMember, got %v", err)
	}
	members, err := SetMembers(ctx, alice, "book-club", []string{"bob", "alice", "carol"})
	if err != nil {
		t.Fatalf("SetMembers failed: %v", err)
	}
	if strings.Join(members, ",") != "alice,bob,carol" {
		t.Errorf("Expected sorted members, got %v", members)
	}
	if got, _ := Members(ctx, bob, "book-club"); len(got) != 3 {
		t.Errorf("Members() = %v", got)
	}

	res, err := RotateGroup(ctx, alice, RotateGroupOptions{ConversationID: "book-club", RetryPending: true})
	if err != nil {
		t.Fatalf("RotateGroup failed: %v", err)
	}
	if res.Epoch != 1 || !res.Complete() {
		t.Fatalf("Unexpected rotation: %+v", res)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != "carol" {
		t.Errorf("Expected carol degraded, got %v", res.Degraded)
	}

	info, err := GroupKey(ctx, bob, "book-club")
	if err != nil {
		t.Fatalf("GroupKey failed: %v", err)
	}
	if info.Epoch != 1 || !info.Usable {
		t.Errorf("Unexpected group key info: %+v", info)
	}

	msg, err := EncryptGroupMessage(ctx, alice, GroupMessageOptions{ConversationID: "book-club", Text: []byte("chapter 3")})
	if err != nil {
		t.Fatalf("EncryptGroupMessage failed: %v", err)
	}
	got, err := DecryptMessage(ctx, bob, msg.Armored)
	if err != nil {
		t.Fatalf("DecryptMessage failed: %v", err)
	}
	if got != "chapter 3" {
		t.Errorf("Expected %q, got %q", "chapter 3", got)
	}

	entries, err := ReadLog(LogOptions{Operation: audit.OpGroupRotate})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Epoch != 1 || entries[0].Conversation != "book-club" {
		t.Errorf("Unexpected group-rotate audit entries: %+v", entries)
	}
}

func TestEncryptGroupMessage_ExplicitMembers(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	alice := w.register("alice")
	bob := w.register("bob")

	opts := GroupMessageOptions{Members: []string{"alice", "bob", "carol"}, Text: []byte("hello all")}
	if _, err := EncryptGroupMessage(ctx, alice, opts); !errors.Is(err, kerrors.ErrRecipientKeyUnavailable) {
		t.Fatalf("Expected ErrRecipientKeyUnavailable, got %v", err)
	}

	opts.AllowDegraded = true
	msg, err := EncryptGroupMessage(ctx, alice, opts)
	if err != nil {
		t.Fatalf("EncryptGroupMessage failed: %v", err)
	}
	if len(msg.Degraded) != 1 || msg.Degraded[0] != "carol" {
		t.Errorf("Expected carol degraded, got %v", msg.Degraded)
	}

	got, err := DecryptGroupMessage(ctx, bob, msg.Armored)
	if err != nil {
		t.Fatalf("DecryptGroupMessage failed: %v", err)
	}
	if got != "hello all" {
		t.Errorf("Expected %q, got %q", "hello all", got)
	}
	if _, err := DecryptGroupMessage(ctx, bob, "muna1.abc"); !errors.Is(err, kerrors.ErrInvalidEnvelope) {
		t.Errorf("Expected ErrInvalidEnvelope for a direct envelope, got %v", err)
	}
}

func TestReadLogLimit(t *testing.T) {
	newTestWorld(t)
	for _, op := range []string{audit.OpRegister, audit.OpRotate, audit.OpRotate, audit.OpErase} {
		audit.Log(audit.Entry{Operation: op})
	}

	entries, err := ReadLog(LogOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].Operation != audit.OpErase {
		t.Errorf("Expected the two most recent entries, got %+v", entries)
	}
}

func TestOpen_SealedStorage(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	if _, err := InitConfig(InitConfigOptions{UserID: "alice", Storage: configs.StorageSealed}); err != nil {
		t.Fatal(err)
	}
	passphrase := func(string) ([]byte, error) { return []byte("correct horse"), nil }

	env, err := Open(ctx, EnvOptions{Backend: w.backend, Passphrase: passphrase})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := Register(ctx, env); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	reopened, err := Open(ctx, EnvOptions{Backend: w.backend, Passphrase: passphrase})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if ok, err := reopened.Identity.HasLocalIdentity(ctx); err != nil || !ok {
		t.Errorf("Expected identity to persist in sealed storage, got %v, %v", ok, err)
	}

	wrong := func(string) ([]byte, error) { return []byte("battery staple"), nil }
	if _, err := Open(ctx, EnvOptions{Backend: w.backend, Passphrase: wrong}); !errors.Is(err, keystore.ErrWrongPassphrase) {
		t.Errorf("Expected ErrWrongPassphrase, got %v", err)
	}
}

func mustMarshal(t *testing.T, env *envelope.EncryptedEnvelope) []byte {
	t.Helper()
	data, err := envelope.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
