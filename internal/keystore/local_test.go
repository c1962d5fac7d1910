package keystore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

func TestLocalKeyStore_GetWithoutIdentity(t *testing.T) {
	store := NewLocalKeyStore(NewMemoryStorage(), "alice")

	_, err := store.Get(context.Background())
	if !errors.Is(err, kerrors.ErrNoLocalIdentity) {
		t.Errorf("expected ErrNoLocalIdentity, got %v", err)
	}
}

func TestLocalKeyStore_PutRetainsPriorVersions(t *testing.T) {
	ctx := context.Background()
	store := NewLocalKeyStore(NewMemoryStorage(), "alice")

	for v := 1; v <= 3; v++ {
		if err := store.Put(ctx, Slot{Version: v, PrivateKey: []byte{byte(v)}, Suite: "test"}); err != nil {
			t.Fatalf("Put(v%d) failed: %v", v, err)
		}
	}

	current, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Version != 3 {
		t.Errorf("current version = %d, want 3", current.Version)
	}

	old, err := store.GetVersion(ctx, 1)
	if err != nil {
		t.Fatalf("GetVersion(1) failed: %v", err)
	}
	if !bytes.Equal(old.PrivateKey, []byte{1}) {
		t.Errorf("GetVersion(1) returned wrong key: %v", old.PrivateKey)
	}

	versions, err := store.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[2] != 3 {
		t.Errorf("Versions() = %v, want [1 2 3]", versions)
	}
}

func TestLocalKeyStore_MissingVersion(t *testing.T) {
	ctx := context.Background()
	store := NewLocalKeyStore(NewMemoryStorage(), "alice")
	if err := store.Put(ctx, Slot{Version: 2, PrivateKey: []byte{2}}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, err := store.GetVersion(ctx, 1)
	if !errors.Is(err, kerrors.ErrKeyVersionMissing) {
		t.Errorf("expected ErrKeyVersionMissing, got %v", err)
	}
}

func TestLocalKeyStore_GetVersionRejectsMislabeledSlot(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewLocalKeyStore(storage, "alice")
	for v := 1; v <= 2; v++ {
		if err := store.Put(ctx, Slot{Version: v, PrivateKey: []byte{byte(v)}}); err != nil {
			t.Fatalf("Put(v%d) failed: %v", v, err)
		}
	}

	// Version 2's slot written under version 1's key.
	encoded, err := storage.Get(ctx, "muna/alice/archive/2")
	if err != nil {
		t.Fatalf("reading version 2 failed: %v", err)
	}
	if err := storage.Set(ctx, "muna/alice/archive/1", encoded); err != nil {
		t.Fatalf("overwriting version 1 failed: %v", err)
	}

	if _, err := store.GetVersion(ctx, 1); !errors.Is(err, kerrors.ErrKeyVersionMissing) {
		t.Errorf("expected ErrKeyVersionMissing, got %v", err)
	}
	if slot, err := store.GetVersion(ctx, 2); err != nil || slot.Version != 2 {
		t.Errorf("GetVersion(2) = %+v, %v", slot, err)
	}
}

func TestLocalKeyStore_NamespacedPerUser(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	alice := NewLocalKeyStore(storage, "alice")
	bob := NewLocalKeyStore(storage, "bob")

	if err := alice.Put(ctx, Slot{Version: 1, PrivateKey: []byte("a")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := bob.Get(ctx); !errors.Is(err, kerrors.ErrNoLocalIdentity) {
		t.Errorf("bob should have no identity, got %v", err)
	}
}

func TestLocalKeyStore_ClearIsPermanent(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewLocalKeyStore(storage, "alice")

	for v := 1; v <= 2; v++ {
		if err := store.Put(ctx, Slot{Version: v, PrivateKey: []byte{byte(v)}}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if _, err := store.Get(ctx); !errors.Is(err, kerrors.ErrNoLocalIdentity) {
		t.Errorf("expected ErrNoLocalIdentity after Clear, got %v", err)
	}
	if _, err := store.GetVersion(ctx, 1); !errors.Is(err, kerrors.ErrKeyVersionMissing) {
		t.Errorf("expected ErrKeyVersionMissing after Clear, got %v", err)
	}
	if storage.Len() != 0 {
		t.Errorf("storage still holds %d keys after Clear", storage.Len())
	}
}

func TestLocalKeyStore_ForgetRefusesCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewLocalKeyStore(NewMemoryStorage(), "alice")
	if err := store.Put(ctx, Slot{Version: 1, PrivateKey: []byte{1}}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, Slot{Version: 2, PrivateKey: []byte{2}}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Forget(ctx, 2); err == nil {
		t.Error("Forget should refuse to drop the current version")
	}
	if err := store.Forget(ctx, 1); err != nil {
		t.Fatalf("Forget(1) failed: %v", err)
	}
	versions, _ := store.Versions(ctx)
	if len(versions) != 1 || versions[0] != 2 {
		t.Errorf("Versions() after Forget = %v, want [2]", versions)
	}
}

func TestFileStorage_PersistsWithPrivatePermissions(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "keys")

	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	if err := storage.Set(ctx, "muna/alice/identity", "secret"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	got, err := reopened.Get(ctx, "muna/alice/identity")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "secret" {
		t.Errorf("Get() = %q, want %q", got, "secret")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, found %d", len(entries))
	}
	info, err := entries[0].Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 600", perm)
	}

	if err := reopened.Remove(ctx, "muna/alice/identity"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := reopened.Get(ctx, "muna/alice/identity"); !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after Remove, got %v", err)
	}
	if err := reopened.Remove(ctx, "muna/alice/identity"); err != nil {
		t.Errorf("removing a missing key should succeed, got %v", err)
	}
}

func TestSealedStorage_RoundTripAndWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStorage()

	sealed, err := NewSealedStorage(ctx, inner, []byte("correct horse"))
	if err != nil {
		t.Fatalf("NewSealedStorage failed: %v", err)
	}
	if err := sealed.Set(ctx, "muna/alice/identity", "private"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := inner.Get(ctx, "muna/alice/identity")
	if err != nil {
		t.Fatalf("inner Get failed: %v", err)
	}
	if raw == "private" {
		t.Error("inner storage holds the value unsealed")
	}

	reopened, err := NewSealedStorage(ctx, inner, []byte("correct horse"))
	if err != nil {
		t.Fatalf("reopening sealed storage failed: %v", err)
	}
	got, err := reopened.Get(ctx, "muna/alice/identity")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "private" {
		t.Errorf("Get() = %q, want %q", got, "private")
	}

	if _, err := NewSealedStorage(ctx, inner, []byte("wrong")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}
}
