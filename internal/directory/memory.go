package directory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// Op names a Memory operation for fault injection.
type Op string

const (
	OpPublish      Op = "publish"
	OpFetch        Op = "fetch"
	OpFetchVersion Op = "fetch_version"
	OpDeactivate   Op = "deactivate"
	OpUpsert       Op = "upsert"
	OpFetchLatest  Op = "fetch_latest"
	OpFetchEpoch   Op = "fetch_epoch"
	OpLatestEpoch  Op = "latest_epoch"
	OpListEpoch    Op = "list_epoch"
	OpMembers      Op = "members"
	OpSetMembers   Op = "set_members"
)

// FaultFunc decides whether an operation should fail. subject is the user id
// for per-user operations and the conversation id otherwise.
type FaultFunc func(op Op, subject string) error

type recordKey struct {
	conversationID string
	userID         string
	epoch          int
}

// Memory is an in-process Backend.
type Memory struct {
	mu      sync.RWMutex
	keys    map[string][]PublishedKey
	records map[recordKey]ConversationKeyRecord
	latest  map[string]int
	members map[string][]string
	fault   FaultFunc
	now     func() time.Time
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		keys:    make(map[string][]PublishedKey),
		records: make(map[recordKey]ConversationKeyRecord),
		latest:  make(map[string]int),
		members: make(map[string][]string),
		now:     time.Now,
	}
}

// SetFault installs f, or removes fault injection when f is nil.
// f is called without the backend lock held, so it may call back into m.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *Memory) check(op Op, subject string) error {
	m.mu.RLock()
	f := m.fault
	m.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(op, subject)
}

func (m *Memory) Publish(ctx context.Context, userID string, publicKey []byte, suite string) (int, error) {
	if err := m.check(OpPublish, userID); err != nil {
		return 0, err
	}
	if len(publicKey) == 0 {
		return 0, fmt.Errorf("%w: empty public key", kerrors.ErrInvalidKeyLength)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.keys[userID]
	if n := len(versions); n > 0 {
		newest := versions[n-1]
		if bytes.Equal(newest.PublicKey, publicKey) {
			return newest.Version, nil
		}
	}

	version := len(versions) + 1
	m.keys[userID] = append(versions, PublishedKey{
		UserID:    userID,
		PublicKey: append([]byte(nil), publicKey...),
		Version:   version,
		Active:    true,
		Suite:     suite,
		CreatedAt: m.now(),
	})
	return version, nil
}

func (m *Memory) Fetch(ctx context.Context, userID string) (PublishedKey, error) {
	if err := m.check(OpFetch, userID); err != nil {
		return PublishedKey{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.keys[userID]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Active {
			return versions[i], nil
		}
	}
	return PublishedKey{}, fmt.Errorf("%w: no active key for %s", kerrors.ErrNotFound, userID)
}

func (m *Memory) FetchVersion(ctx context.Context, userID string, version int) (PublishedKey, error) {
	if err := m.check(OpFetchVersion, userID); err != nil {
		return PublishedKey{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.keys[userID]
	if version < 1 || version > len(versions) {
		return PublishedKey{}, fmt.Errorf("%w: %s has no key version %d", kerrors.ErrNotFound, userID, version)
	}
	return versions[version-1], nil
}

func (m *Memory) Deactivate(ctx context.Context, userID string, belowVersion int) error {
	if err := m.check(OpDeactivate, userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.keys[userID]
	for i := range versions {
		if versions[i].Version < belowVersion {
			versions[i].Active = false
		}
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, rec ConversationKeyRecord) error {
	if err := m.check(OpUpsert, rec.UserID); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	rec.WrappedKey = append([]byte(nil), rec.WrappedKey...)
	rec.Recipients = append([]string(nil), rec.Recipients...)
	m.records[recordKey{rec.ConversationID, rec.UserID, rec.Epoch}] = rec
	if rec.Epoch > m.latest[rec.ConversationID] {
		m.latest[rec.ConversationID] = rec.Epoch
	}
	return nil
}

func (m *Memory) FetchLatest(ctx context.Context, conversationID, userID string) (ConversationKeyRecord, error) {
	if err := m.check(OpFetchLatest, userID); err != nil {
		return ConversationKeyRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best ConversationKeyRecord
	found := false
	for k, rec := range m.records {
		if k.conversationID != conversationID || k.userID != userID {
			continue
		}
		if !found || rec.Epoch > best.Epoch {
			best, found = rec, true
		}
	}
	if !found {
		return ConversationKeyRecord{}, fmt.Errorf("%w: %s has no key for conversation %s", kerrors.ErrNotFound, userID, conversationID)
	}
	return best, nil
}

func (m *Memory) FetchEpoch(ctx context.Context, conversationID, userID string, epoch int) (ConversationKeyRecord, error) {
	if err := m.check(OpFetchEpoch, userID); err != nil {
		return ConversationKeyRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordKey{conversationID, userID, epoch}]
	if !ok {
		return ConversationKeyRecord{}, fmt.Errorf("%w: %s has no key for epoch %d of %s", kerrors.ErrNotFound, userID, epoch, conversationID)
	}
	return rec, nil
}

func (m *Memory) LatestEpoch(ctx context.Context, conversationID string) (int, error) {
	if err := m.check(OpLatestEpoch, conversationID); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest[conversationID], nil
}

func (m *Memory) ListEpoch(ctx context.Context, conversationID string, epoch int) ([]ConversationKeyRecord, error) {
	if err := m.check(OpListEpoch, conversationID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ConversationKeyRecord
	for k, rec := range m.records {
		if k.conversationID == conversationID && k.epoch == epoch {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) Members(ctx context.Context, conversationID string) ([]string, error) {
	if err := m.check(OpMembers, conversationID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.members[conversationID]...), nil
}

func (m *Memory) SetMembers(ctx context.Context, conversationID string, members []string) error {
	if err := m.check(OpSetMembers, conversationID); err != nil {
		return err
	}
	normalized, err := NormalizeMembers(members)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[conversationID] = normalized
	return nil
}

// NormalizeMembers sorts members and rejects empty or duplicate ids.
func NormalizeMembers(members []string) ([]string, error) {
	out := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == "" {
			return nil, fmt.Errorf("member list contains an empty user id")
		}
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrDuplicateMember, m)
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

var _ Backend = (*Memory)(nil)
