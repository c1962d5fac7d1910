package envelope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/metrics"
	"github.com/PolarWolf314/muna/internal/retry"
)

// KeyResolver resolves locally held private keys by version.
// identity.Manager satisfies it.
type KeyResolver interface {
	PrivateKey(ctx context.Context, version int) ([]byte, error)
}

// Cipher is the EnvelopeCipher.
type Cipher struct {
	provider cryptoprovider.Provider
	keys     KeyResolver
	dir      directory.Directory
	policy   retry.Policy
	metrics  *metrics.Metrics
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithKeys sets the resolver used to decrypt. Without it Decrypt reports ErrNoLocalIdentity.
func WithKeys(keys KeyResolver) Option {
	return func(c *Cipher) {
		c.keys = keys
	}
}

// WithDirectory enables EncryptForUser.
func WithDirectory(dir directory.Directory) Option {
	return func(c *Cipher) {
		c.dir = dir
	}
}

// WithRetryPolicy sets the policy for directory lookups.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Cipher) {
		c.policy = p
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cipher) {
		c.metrics = m
	}
}

// New returns a Cipher using provider's primitives.
func New(provider cryptoprovider.Provider, opts ...Option) *Cipher {
	c := &Cipher{provider: provider, policy: retry.DefaultPolicy()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the primitive suite in use.
func (c *Cipher) Provider() cryptoprovider.Provider {
	return c.provider
}

// EncryptForRecipient encrypts a binary payload to recipientPublicKey.
func (c *Cipher) EncryptForRecipient(plaintext, recipientPublicKey []byte, keyVersion int) (*EncryptedEnvelope, error) {
	return c.seal(KindBinary, plaintext, recipientPublicKey, keyVersion)
}

// EncryptText encrypts a text message to recipientPublicKey.
func (c *Cipher) EncryptText(text string, recipientPublicKey []byte, keyVersion int) (*EncryptedEnvelope, error) {
	return c.seal(KindText, []byte(text), recipientPublicKey, keyVersion)
}

// EncryptBytes encrypts an attachment or other binary payload to recipientPublicKey.
func (c *Cipher) EncryptBytes(data, recipientPublicKey []byte, keyVersion int) (*EncryptedEnvelope, error) {
	return c.seal(KindBinary, data, recipientPublicKey, keyVersion)
}

// EncryptForUser resolves userID's active key from the directory and encrypts
// to it. A user with no published key yields ErrRecipientKeyUnavailable and
// nothing is sent in the clear.
func (c *Cipher) EncryptForUser(ctx context.Context, userID string, kind Kind, plaintext []byte) (*EncryptedEnvelope, error) {
	key, err := c.RecipientKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.seal(kind, plaintext, key.PublicKey, key.Version)
}

// RecipientKey returns userID's active published key.
func (c *Cipher) RecipientKey(ctx context.Context, userID string) (directory.PublishedKey, error) {
	if c.dir == nil {
		return directory.PublishedKey{}, fmt.Errorf("%w: no key directory configured", kerrors.ErrRecipientKeyUnavailable)
	}

	var key directory.PublishedKey
	err := c.policy.Do(ctx, func() error {
		k, err := c.dir.Fetch(ctx, userID)
		key = k
		return err
	})
	if errors.Is(err, kerrors.ErrNotFound) {
		return directory.PublishedKey{}, fmt.Errorf("%w: %s", kerrors.ErrRecipientKeyUnavailable, userID)
	}
	if err != nil {
		return directory.PublishedKey{}, fmt.Errorf("resolving key for %s: %w", userID, err)
	}
	if key.Suite != "" && key.Suite != c.provider.Suite() {
		return directory.PublishedKey{}, fmt.Errorf("%w: %s publishes a %s key", kerrors.ErrSuiteMismatch, userID, key.Suite)
	}
	return key, nil
}

func (c *Cipher) seal(kind Kind, plaintext, recipientPublicKey []byte, keyVersion int) (env *EncryptedEnvelope, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpEncrypt, start, err) }()

	if keyVersion < 1 {
		return nil, fmt.Errorf("%w: key version %d", kerrors.ErrInvalidEnvelope, keyVersion)
	}

	key, err := c.provider.NewKey()
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(key)

	nonce, err := c.provider.NewNonce()
	if err != nil {
		return nil, err
	}

	suite := c.provider.Suite()
	ciphertext, err := c.provider.EncryptAEAD(key, nonce, plaintext, associatedData(suite, kind, keyVersion))
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	wrapped, err := c.Wrap(recipientPublicKey, key)
	if err != nil {
		return nil, err
	}

	return &EncryptedEnvelope{
		Suite:      suite,
		Kind:       kind,
		KeyVersion: keyVersion,
		WrappedKey: wrapped,
		IV:         nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt opens env with the locally held key for env.KeyVersion. It never
// returns plaintext that failed authentication.
func (c *Cipher) Decrypt(ctx context.Context, env *EncryptedEnvelope) (plaintext []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpDecrypt, start, err) }()

	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Suite != c.provider.Suite() {
		return nil, fmt.Errorf("%w: envelope uses %s, this device uses %s", kerrors.ErrSuiteMismatch, env.Suite, c.provider.Suite())
	}

	key, err := c.Unwrap(ctx, env.WrappedKey, env.KeyVersion)
	if err != nil {
		return nil, err
	}
	defer cryptoprovider.Wipe(key)

	plaintext, err = c.provider.DecryptAEAD(key, env.IV, env.Ciphertext, associatedData(env.Suite, env.Kind, env.KeyVersion))
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// DecryptText opens a text envelope.
func (c *Cipher) DecryptText(ctx context.Context, env *EncryptedEnvelope) (string, error) {
	if env != nil && env.Kind != KindText {
		return "", fmt.Errorf("%w: expected a text envelope, got %q", kerrors.ErrInvalidEnvelope, env.Kind)
	}
	plaintext, err := c.Decrypt(ctx, env)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptBytes opens a binary envelope.
func (c *Cipher) DecryptBytes(ctx context.Context, env *EncryptedEnvelope) ([]byte, error) {
	if env != nil && env.Kind != KindBinary {
		return nil, fmt.Errorf("%w: expected a binary envelope, got %q", kerrors.ErrInvalidEnvelope, env.Kind)
	}
	return c.Decrypt(ctx, env)
}

// Wrap seals key to publicKey.
func (c *Cipher) Wrap(publicKey, key []byte) (wrapped []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpWrap, start, err) }()

	wrapped, err = c.provider.WrapKey(publicKey, key)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}
	return wrapped, nil
}

// Unwrap opens wrapped with the locally held private key for keyVersion.
func (c *Cipher) Unwrap(ctx context.Context, wrapped []byte, keyVersion int) (key []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpUnwrap, start, err) }()

	if c.keys == nil {
		return nil, kerrors.ErrNoLocalIdentity
	}
	priv, err := c.keys.PrivateKey(ctx, keyVersion)
	if err != nil {
		return nil, err
	}
	return c.provider.UnwrapKey(priv, wrapped)
}
