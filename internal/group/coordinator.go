package group

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	"github.com/PolarWolf314/muna/internal/envelope"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/metrics"
	"github.com/PolarWolf314/muna/internal/retry"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds fan-out when no option overrides it.
const DefaultConcurrency = 8

// DefaultMaxAttempts bounds how often a rotation is recomputed when
// membership or the latest epoch changes underneath it.
const DefaultMaxAttempts = 3

// Coordinator is the GroupKeyCoordinator acting for one signed-in user.
type Coordinator struct {
	userID      string
	cipher      *envelope.Cipher
	store       directory.WrappedKeyStore
	membership  directory.Membership
	concurrency int
	maxAttempts int
	policy      retry.Policy
	metrics     *metrics.Metrics
	log         logger.Logger
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds how many wraps or store writes run at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxAttempts bounds rotation recomputation.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryPolicy sets the per-member retry policy for store writes.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithMetrics records rotation and encryption outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// New returns a Coordinator for userID. cipher must be able to resolve
// recipients through the directory and unwrap with userID's local keys.
func New(userID string, cipher *envelope.Cipher, store directory.WrappedKeyStore, membership directory.Membership, opts ...Option) *Coordinator {
	c := &Coordinator{
		userID:      userID,
		cipher:      cipher,
		store:       store,
		membership:  membership,
		concurrency: DefaultConcurrency,
		maxAttempts: DefaultMaxAttempts,
		policy:      retry.DefaultPolicy(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) provider() cryptoprovider.Provider {
	return c.cipher.Provider()
}

// EncryptForGroup encrypts plaintext once and wraps its key for every member.
func (c *Coordinator) EncryptForGroup(ctx context.Context, plaintext []byte, members []MemberKey) (env *GroupEnvelope, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpGroupEncrypt, start, err) }()

	if len(members) == 0 {
		return nil, kerrors.ErrEmptyMembership
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.UserID]; dup {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrDuplicateMember, m.UserID)
		}
		seen[m.UserID] = struct{}{}
	}

	p := c.provider()
	key, err := p.NewKey()
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(key)

	nonce, err := p.NewNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := p.EncryptAEAD(key, nonce, plaintext, groupAssociatedData(p.Suite()))
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	wrapped := make([]WrappedKey, len(members))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, m := range members {
		g.Go(func() error {
			w, err := c.cipher.Wrap(m.PublicKey, key)
			if err != nil {
				return fmt.Errorf("wrapping for %s: %w", m.UserID, err)
			}
			wrapped[i] = WrappedKey{WrappedKey: w, KeyVersion: m.KeyVersion}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	env = &GroupEnvelope{
		Suite:       p.Suite(),
		IV:          nonce,
		Ciphertext:  ciphertext,
		WrappedKeys: make(map[string]WrappedKey, len(members)),
	}
	for i, m := range members {
		env.WrappedKeys[m.UserID] = wrapped[i]
	}
	return env, nil
}

// DecryptGroup opens the copy of env addressed to this coordinator's user.
func (c *Coordinator) DecryptGroup(ctx context.Context, env *GroupEnvelope) (plaintext []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpGroupDecrypt, start, err) }()

	if err := env.validate(); err != nil {
		return nil, err
	}
	p := c.provider()
	if env.Suite != p.Suite() {
		return nil, fmt.Errorf("%w: envelope uses %s", kerrors.ErrSuiteMismatch, env.Suite)
	}
	mine, ok := env.WrappedKeys[c.userID]
	if !ok {
		return nil, fmt.Errorf("%w: envelope is not addressed to %s", kerrors.ErrNotMember, c.userID)
	}

	key, err := c.cipher.Unwrap(ctx, mine.WrappedKey, mine.KeyVersion)
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(key)

	return p.DecryptAEAD(key, env.IV, env.Ciphertext, groupAssociatedData(env.Suite))
}

// ResolveMembers looks up each user's active key. Users without a usable
// published key are returned in degraded rather than failing the call.
func (c *Coordinator) ResolveMembers(ctx context.Context, userIDs []string) (keys []MemberKey, degraded []string, err error) {
	resolved := make([]*MemberKey, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range userIDs {
		g.Go(func() error {
			pk, err := c.cipher.RecipientKey(gctx, id)
			if errors.Is(err, kerrors.ErrRecipientKeyUnavailable) || errors.Is(err, kerrors.ErrSuiteMismatch) {
				return nil
			}
			if err != nil {
				return err
			}
			resolved[i] = &MemberKey{UserID: id, PublicKey: pk.PublicKey, KeyVersion: pk.Version}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i, r := range resolved {
		if r == nil {
			degraded = append(degraded, userIDs[i])
			continue
		}
		keys = append(keys, *r)
	}
	return keys, degraded, nil
}

// GetMyWrappedKey returns this user's highest-epoch record for the conversation.
func (c *Coordinator) GetMyWrappedKey(ctx context.Context, conversationID string) (directory.ConversationKeyRecord, error) {
	var rec directory.ConversationKeyRecord
	err := c.policy.Do(ctx, func() error {
		r, err := c.store.FetchLatest(ctx, conversationID, c.userID)
		rec = r
		return err
	})
	if err != nil {
		return directory.ConversationKeyRecord{}, err
	}
	return rec, nil
}

// EpochKey unwraps this user's copy of the conversation key for epoch.
// A user who was never given that epoch gets ErrKeyVersionMissing.
func (c *Coordinator) EpochKey(ctx context.Context, conversationID string, epoch int) ([]byte, error) {
	var rec directory.ConversationKeyRecord
	err := c.policy.Do(ctx, func() error {
		r, err := c.store.FetchEpoch(ctx, conversationID, c.userID, epoch)
		rec = r
		return err
	})
	if errors.Is(err, kerrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: no key for epoch %d of %s", kerrors.ErrKeyVersionMissing, epoch, conversationID)
	}
	if err != nil {
		return nil, err
	}
	return c.cipher.Unwrap(ctx, rec.WrappedKey, rec.KeyVersion)
}

// EncryptWithEpoch encrypts plaintext under the conversation's latest epoch key.
func (c *Coordinator) EncryptWithEpoch(ctx context.Context, conversationID string, plaintext []byte) (env *EpochEnvelope, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpGroupEncrypt, start, err) }()

	latest, err := c.latestEpoch(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, fmt.Errorf("%w: conversation %s has no key yet", kerrors.ErrKeyVersionMissing, conversationID)
	}

	key, err := c.EpochKey(ctx, conversationID, latest)
	if errors.Is(err, kerrors.ErrKeyVersionMissing) {
		return nil, fmt.Errorf("%w: %s holds no key for epoch %d", kerrors.ErrNotMember, c.userID, latest)
	}
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(key)

	p := c.provider()
	nonce, err := p.NewNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := p.EncryptAEAD(key, nonce, plaintext, epochAssociatedData(p.Suite(), conversationID, latest))
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	return &EpochEnvelope{
		Suite:          p.Suite(),
		ConversationID: conversationID,
		Epoch:          latest,
		IV:             nonce,
		Ciphertext:     ciphertext,
	}, nil
}

// DecryptEpoch opens env with this user's copy of the referenced epoch key.
func (c *Coordinator) DecryptEpoch(ctx context.Context, env *EpochEnvelope) (plaintext []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpGroupDecrypt, start, err) }()

	if err := env.validate(); err != nil {
		return nil, err
	}
	p := c.provider()
	if env.Suite != p.Suite() {
		return nil, fmt.Errorf("%w: envelope uses %s", kerrors.ErrSuiteMismatch, env.Suite)
	}

	key, err := c.EpochKey(ctx, env.ConversationID, env.Epoch)
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(key)

	return p.DecryptAEAD(key, env.IV, env.Ciphertext, epochAssociatedData(env.Suite, env.ConversationID, env.Epoch))
}

func (c *Coordinator) latestEpoch(ctx context.Context, conversationID string) (int, error) {
	var latest int
	err := c.policy.Do(ctx, func() error {
		n, err := c.store.LatestEpoch(ctx, conversationID)
		latest = n
		return err
	})
	return latest, err
}

func (c *Coordinator) currentMembers(ctx context.Context, conversationID string) ([]string, error) {
	var members []string
	err := c.policy.Do(ctx, func() error {
		m, err := c.membership.Members(ctx, conversationID)
		members = m
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolving members of %s: %w", conversationID, err)
	}
	return directory.NormalizeMembers(members)
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
