package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// Slot is one private key version held on this device.
type Slot struct {
	Version    int
	PrivateKey []byte
	Suite      string
}

type slotRecord struct {
	Version    int    `json:"version"`
	PrivateKey string `json:"private_key"`
	Suite      string `json:"suite"`
}

// LocalKeyStore holds the signed-in identity's private keys.
type LocalKeyStore struct {
	storage SecureStorage
	userID  string
	mu      sync.Mutex
}

// NewLocalKeyStore namespaces storage to userID.
func NewLocalKeyStore(storage SecureStorage, userID string) *LocalKeyStore {
	return &LocalKeyStore{storage: storage, userID: userID}
}

// UserID returns the identity this store is namespaced to.
func (s *LocalKeyStore) UserID() string {
	return s.userID
}

func (s *LocalKeyStore) currentKey() string { return "muna/" + s.userID + "/identity" }
func (s *LocalKeyStore) indexKey() string   { return "muna/" + s.userID + "/archive" }
func (s *LocalKeyStore) versionKey(v int) string {
	return "muna/" + s.userID + "/archive/" + strconv.Itoa(v)
}

// Put stores slot as the current identity and retains it under its version.
// The retained copy is written before the current pointer moves.
func (s *LocalKeyStore) Put(ctx context.Context, slot Slot) error {
	if slot.Version < 1 {
		return fmt.Errorf("invalid key version %d", slot.Version)
	}
	if len(slot.PrivateKey) == 0 {
		return fmt.Errorf("%w: empty private key", kerrors.ErrInvalidKeyLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encodeSlot(slot)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.versionKey(slot.Version), encoded); err != nil {
		return fmt.Errorf("saving key version %d: %w", slot.Version, err)
	}

	versions, err := s.versions(ctx)
	if err != nil {
		return err
	}
	if !containsVersion(versions, slot.Version) {
		versions = append(versions, slot.Version)
		if err := s.saveVersions(ctx, versions); err != nil {
			return err
		}
	}

	if err := s.storage.Set(ctx, s.currentKey(), encoded); err != nil {
		return fmt.Errorf("saving current identity: %w", err)
	}
	return nil
}

// Get returns the current slot, or ErrNoLocalIdentity.
func (s *LocalKeyStore) Get(ctx context.Context) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := s.storage.Get(ctx, s.currentKey())
	if errors.Is(err, kerrors.ErrNotFound) {
		return Slot{}, kerrors.ErrNoLocalIdentity
	}
	if err != nil {
		return Slot{}, fmt.Errorf("reading current identity: %w", err)
	}
	return decodeSlot(encoded)
}

// GetVersion returns the slot for version, or ErrKeyVersionMissing if it is not held.
func (s *LocalKeyStore) GetVersion(ctx context.Context, version int) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := s.storage.Get(ctx, s.versionKey(version))
	if errors.Is(err, kerrors.ErrNotFound) {
		return Slot{}, fmt.Errorf("%w: version %d", kerrors.ErrKeyVersionMissing, version)
	}
	if err != nil {
		return Slot{}, fmt.Errorf("reading key version %d: %w", version, err)
	}
	slot, err := decodeSlot(encoded)
	if err != nil {
		return Slot{}, err
	}
	if slot.Version != version {
		return Slot{}, fmt.Errorf("%w: version %d slot holds version %d", kerrors.ErrKeyVersionMissing, version, slot.Version)
	}
	return slot, nil
}

// Versions lists retained versions in ascending order.
func (s *LocalKeyStore) Versions(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions(ctx)
}

// Forget drops a retained version that is not the current slot. It is used
// only for keys that were never published.
func (s *LocalKeyStore) Forget(ctx context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if encoded, err := s.storage.Get(ctx, s.currentKey()); err == nil {
		if current, err := decodeSlot(encoded); err == nil && current.Version == version {
			return fmt.Errorf("cannot forget current key version %d", version)
		}
	}

	if err := s.storage.Remove(ctx, s.versionKey(version)); err != nil {
		return fmt.Errorf("removing key version %d: %w", version, err)
	}
	versions, err := s.versions(ctx)
	if err != nil {
		return err
	}
	kept := versions[:0]
	for _, v := range versions {
		if v != version {
			kept = append(kept, v)
		}
	}
	return s.saveVersions(ctx, kept)
}

// Clear permanently erases every key version for this identity.
func (s *LocalKeyStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Remove(ctx, s.currentKey()); err != nil {
		return fmt.Errorf("removing current identity: %w", err)
	}
	versions, err := s.versions(ctx)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := s.storage.Remove(ctx, s.versionKey(v)); err != nil {
			return fmt.Errorf("removing key version %d: %w", v, err)
		}
	}
	if err := s.storage.Remove(ctx, s.indexKey()); err != nil {
		return fmt.Errorf("removing key index: %w", err)
	}
	return nil
}

func (s *LocalKeyStore) versions(ctx context.Context) ([]int, error) {
	encoded, err := s.storage.Get(ctx, s.indexKey())
	if errors.Is(err, kerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key index: %w", err)
	}
	var versions []int
	if err := json.Unmarshal([]byte(encoded), &versions); err != nil {
		return nil, fmt.Errorf("parsing key index: %w", err)
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *LocalKeyStore) saveVersions(ctx context.Context, versions []int) error {
	sort.Ints(versions)
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.indexKey(), string(data)); err != nil {
		return fmt.Errorf("saving key index: %w", err)
	}
	return nil
}

func containsVersion(versions []int, v int) bool {
	for _, existing := range versions {
		if existing == v {
			return true
		}
	}
	return false
}

func encodeSlot(slot Slot) (string, error) {
	data, err := json.Marshal(slotRecord{
		Version:    slot.Version,
		PrivateKey: base64.StdEncoding.EncodeToString(slot.PrivateKey),
		Suite:      slot.Suite,
	})
	if err != nil {
		return "", fmt.Errorf("encoding key slot: %w", err)
	}
	return string(data), nil
}

func decodeSlot(encoded string) (Slot, error) {
	var rec slotRecord
	if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
		return Slot{}, fmt.Errorf("parsing key slot: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(rec.PrivateKey)
	if err != nil {
		return Slot{}, fmt.Errorf("decoding private key: %w", err)
	}
	return Slot{Version: rec.Version, PrivateKey: priv, Suite: rec.Suite}, nil
}
