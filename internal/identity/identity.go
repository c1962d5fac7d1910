package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/keystore"
	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/retry"
)

// IdentityKeyPair is one version of a user's identity key.
type IdentityKeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
	Version    int
	Suite      string
}

// Fingerprint identifies the public key for out-of-band comparison.
func (k IdentityKeyPair) Fingerprint() string {
	return cryptoprovider.Fingerprint(k.PublicKey)
}

// RegisterResult describes the outcome of RegisterIdentity or RotateIdentity.
type RegisterResult struct {
	Version     int
	Fingerprint string
	// Generated is true when a new key pair was created by this call.
	Generated bool
	// Resumed is true when the call completed work left by an earlier attempt.
	Resumed bool
	// Reslotted is true when the directory assigned a different version than
	// the one first stored locally.
	Reslotted bool
}

// Manager is the KeyPairManager for one signed-in identity.
type Manager struct {
	userID   string
	provider cryptoprovider.Provider
	store    *keystore.LocalKeyStore
	dir      directory.Directory
	policy   retry.Policy
	cache    *Cache
	log      logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy sets the policy for directory calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithCache attaches a caller-owned identity cache. The manager invalidates
// it whenever the active identity changes.
func WithCache(c *Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager returns a Manager for the identity store is namespaced to.
func NewManager(store *keystore.LocalKeyStore, dir directory.Directory, provider cryptoprovider.Provider, opts ...Option) *Manager {
	m := &Manager{
		userID:   store.UserID(),
		provider: provider,
		store:    store,
		dir:      dir,
		policy:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UserID returns the identity this manager acts for.
func (m *Manager) UserID() string {
	return m.userID
}

// Provider returns the primitive suite keys are generated with.
func (m *Manager) Provider() cryptoprovider.Provider {
	return m.provider
}

// GenerateIdentity creates a key pair without storing or publishing it.
func (m *Manager) GenerateIdentity() (IdentityKeyPair, error) {
	kp, err := m.provider.GenerateKeyPair()
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("generating identity key pair: %w", err)
	}
	return IdentityKeyPair{PublicKey: kp.PublicKey, PrivateKey: kp.PrivateKey, Suite: m.provider.Suite()}, nil
}

// RegisterIdentity ensures this device holds a private key whose public half
// is the user's active directory entry. Repeating it after success is a no-op.
func (m *Manager) RegisterIdentity(ctx context.Context) (*RegisterResult, error) {
	return m.register(ctx, false)
}

// RotateIdentity supersedes the active key with a new version. Older versions
// remain held locally.
func (m *Manager) RotateIdentity(ctx context.Context) (*RegisterResult, error) {
	if _, err := m.store.Get(ctx); err != nil {
		return nil, err
	}
	return m.register(ctx, true)
}

func (m *Manager) register(ctx context.Context, rotate bool) (*RegisterResult, error) {
	local, hasLocal, err := m.localSlot(ctx)
	if err != nil {
		return nil, err
	}
	published, dirVersion, err := m.publishedKey(ctx)
	if err != nil {
		return nil, err
	}

	if hasLocal && local.Suite == m.provider.Suite() {
		localPub, err := m.provider.PublicKey(local.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("reading local identity: %w", err)
		}

		switch {
		case local.Version == dirVersion+1:
			m.log.Infof("Resuming registration of unpublished key version %d", local.Version)
			res, err := m.publish(ctx, local, localPub)
			if err != nil {
				return nil, err
			}
			res.Resumed = true
			return res, nil

		case local.Version == dirVersion && bytes.Equal(localPub, published.PublicKey) && !rotate:
			m.log.Debugf("Key version %d already published, confirming older versions are inactive", local.Version)
			if err := m.deactivate(ctx, local.Version); err != nil {
				return nil, err
			}
			return &RegisterResult{
				Version:     local.Version,
				Fingerprint: cryptoprovider.Fingerprint(localPub),
				Resumed:     true,
			}, nil
		}
	}

	next := dirVersion
	if hasLocal && local.Version > next {
		next = local.Version
	}
	next++

	pair, err := m.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	slot := keystore.Slot{Version: next, PrivateKey: pair.PrivateKey, Suite: pair.Suite}
	if err := m.store.Put(ctx, slot); err != nil {
		return nil, fmt.Errorf("saving identity key version %d: %w", next, err)
	}
	m.invalidate()
	m.log.Infof("Stored new identity key version %d", next)

	res, err := m.publish(ctx, slot, pair.PublicKey)
	if err != nil {
		return nil, err
	}
	res.Generated = true
	return res, nil
}

// publish sends slot's public key to the directory, re-slots the local key
// if the directory assigned another version, then deactivates older entries.
func (m *Manager) publish(ctx context.Context, slot keystore.Slot, publicKey []byte) (*RegisterResult, error) {
	var assigned int
	err := m.policy.Do(ctx, func() error {
		v, err := m.dir.Publish(ctx, m.userID, publicKey, slot.Suite)
		assigned = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("publishing identity key version %d: %w", slot.Version, err)
	}

	res := &RegisterResult{Version: assigned, Fingerprint: cryptoprovider.Fingerprint(publicKey)}
	if assigned != slot.Version {
		m.log.WarnfAlways("Directory assigned key version %d instead of %d, updating local key", assigned, slot.Version)
		if err := m.reslot(ctx, slot, assigned); err != nil {
			return nil, err
		}
		res.Reslotted = true
	}

	if err := m.deactivate(ctx, assigned); err != nil {
		return nil, err
	}
	return res, nil
}

// reslot moves an unpublished local key to the version the directory
// assigned. A different key already held under that version is never
// overwritten; the local key stays at its unpublished version instead.
func (m *Manager) reslot(ctx context.Context, slot keystore.Slot, version int) error {
	old := slot.Version
	existing, err := m.store.GetVersion(ctx, version)
	switch {
	case err == nil && !bytes.Equal(existing.PrivateKey, slot.PrivateKey):
		return fmt.Errorf("%w: directory assigned version %d, which already holds another local key; key version %d was kept", kerrors.ErrVersionConflict, version, old)
	case err != nil && !errors.Is(err, kerrors.ErrKeyVersionMissing):
		return fmt.Errorf("%w: reading local key version %d: %v", kerrors.ErrVersionConflict, version, err)
	}

	slot.Version = version
	if err := m.store.Put(ctx, slot); err != nil {
		return fmt.Errorf("%w: moving local key from version %d to %d: %v", kerrors.ErrVersionConflict, old, version, err)
	}
	if err := m.store.Forget(ctx, old); err != nil {
		return fmt.Errorf("%w: dropping local key version %d: %v", kerrors.ErrVersionConflict, old, err)
	}
	m.invalidate()
	return nil
}

func (m *Manager) deactivate(ctx context.Context, version int) error {
	if version <= 1 {
		return nil
	}
	err := m.policy.Do(ctx, func() error {
		return m.dir.Deactivate(ctx, m.userID, version)
	})
	if err != nil {
		return fmt.Errorf("deactivating key versions below %d: %w", version, err)
	}
	return nil
}

func (m *Manager) localSlot(ctx context.Context) (keystore.Slot, bool, error) {
	slot, err := m.store.Get(ctx)
	if errors.Is(err, kerrors.ErrNoLocalIdentity) {
		return keystore.Slot{}, false, nil
	}
	if err != nil {
		return keystore.Slot{}, false, err
	}
	return slot, true, nil
}

func (m *Manager) publishedKey(ctx context.Context) (directory.PublishedKey, int, error) {
	var key directory.PublishedKey
	err := m.policy.Do(ctx, func() error {
		k, err := m.dir.Fetch(ctx, m.userID)
		key = k
		return err
	})
	if errors.Is(err, kerrors.ErrNotFound) {
		return directory.PublishedKey{}, 0, nil
	}
	if err != nil {
		return directory.PublishedKey{}, 0, fmt.Errorf("looking up published key: %w", err)
	}
	return key, key.Version, nil
}

// HasLocalIdentity reports whether this device holds a private key.
func (m *Manager) HasLocalIdentity(ctx context.Context) (bool, error) {
	_, ok, err := m.localSlot(ctx)
	return ok, err
}

// ActiveIdentity returns the current local key pair, through the cache if one is attached.
func (m *Manager) ActiveIdentity(ctx context.Context) (IdentityKeyPair, error) {
	if m.cache != nil {
		return m.cache.Get(ctx, m.loadActive)
	}
	return m.loadActive(ctx)
}

func (m *Manager) loadActive(ctx context.Context) (IdentityKeyPair, error) {
	slot, err := m.store.Get(ctx)
	if err != nil {
		return IdentityKeyPair{}, err
	}
	pub, err := m.provider.PublicKey(slot.PrivateKey)
	if err != nil {
		return IdentityKeyPair{}, fmt.Errorf("reading local identity: %w", err)
	}
	return IdentityKeyPair{PublicKey: pub, PrivateKey: slot.PrivateKey, Version: slot.Version, Suite: slot.Suite}, nil
}

// PrivateKey resolves a locally held private key by version. The active
// version is served through ActiveIdentity.
func (m *Manager) PrivateKey(ctx context.Context, version int) ([]byte, error) {
	active, err := m.ActiveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if version == active.Version {
		if active.Suite != "" && active.Suite != m.provider.Suite() {
			return nil, fmt.Errorf("%w: key version %d uses %s", kerrors.ErrSuiteMismatch, version, active.Suite)
		}
		return active.PrivateKey, nil
	}

	slot, err := m.store.GetVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	if slot.Suite != "" && slot.Suite != m.provider.Suite() {
		return nil, fmt.Errorf("%w: key version %d uses %s", kerrors.ErrSuiteMismatch, version, slot.Suite)
	}
	return slot.PrivateKey, nil
}

// EraseIdentity permanently removes every local key version. Directory entries
// hold only public material and are left in place.
func (m *Manager) EraseIdentity(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("erasing local identity: %w", err)
	}
	m.invalidate()
	return nil
}

func (m *Manager) invalidate() {
	if m.cache != nil {
		m.cache.Invalidate()
	}
}
