package identity

import (
	"bytes"
	"context"
	"errors"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// Status is the lifecycle state of an identity on this device.
type Status string

const (
	// StatusUnregistered means no private key is held locally.
	StatusUnregistered Status = "unregistered"
	// StatusPending means a local key exists but is not the directory's active key.
	StatusPending Status = "pending"
	// StatusActive means the local key is the directory's active key.
	StatusActive Status = "active"
)

// State summarizes the identity for display.
type State struct {
	UserID      string `json:"user_id" yaml:"user_id"`
	Status      Status `json:"status" yaml:"status"`
	Suite       string `json:"suite,omitempty" yaml:"suite,omitempty"`
	Version     int    `json:"version,omitempty" yaml:"version,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	// Published is the directory's active version, 0 when none.
	Published int `json:"published_version" yaml:"published_version"`
	// Retained lists older versions still decryptable on this device.
	Retained []int `json:"retained_versions,omitempty" yaml:"retained_versions,omitempty"`
}

// State reports where the identity is in its lifecycle.
func (m *Manager) State(ctx context.Context) (State, error) {
	st := State{UserID: m.userID, Status: StatusUnregistered}

	published, dirVersion, err := m.publishedKey(ctx)
	if err != nil {
		return st, err
	}
	st.Published = dirVersion

	active, err := m.ActiveIdentity(ctx)
	if errors.Is(err, kerrors.ErrNoLocalIdentity) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.Suite = active.Suite
	st.Version = active.Version
	st.Fingerprint = cryptoprovider.Fingerprint(active.PublicKey)
	st.Status = StatusPending
	if active.Version == dirVersion && bytes.Equal(active.PublicKey, published.PublicKey) {
		st.Status = StatusActive
	}

	versions, err := m.store.Versions(ctx)
	if err != nil {
		return st, err
	}
	for _, v := range versions {
		if v != active.Version {
			st.Retained = append(st.Retained, v)
		}
	}
	return st, nil
}
