package cryptoprovider

import (
	"crypto/rand"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// Suite identifiers.
const (
	SuiteX25519   = "x25519-xchacha20poly1305"
	SuiteMLKEM768 = "mlkem768-aes256gcm"

	// DefaultSuite is used when configuration does not name one.
	DefaultSuite = SuiteX25519

	// SymmetricKeySize is the size of every payload and epoch key.
	SymmetricKeySize = 32
)

// KeyPair is raw asymmetric key material in the suite's binary encoding.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// Provider is the capability set the envelope protocol needs.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Suite returns the identifier stamped on envelopes and published keys.
	Suite() string

	GenerateKeyPair() (KeyPair, error)

	// PublicKey derives the public half of a private key.
	PublicKey(privateKey []byte) ([]byte, error)

	// WrapKey seals a symmetric key so only the holder of the matching private key can open it.
	WrapKey(recipientPublicKey, key []byte) ([]byte, error)

	// UnwrapKey reverses WrapKey. Any failure is reported as ErrUnwrapFailed.
	UnwrapKey(privateKey, wrapped []byte) ([]byte, error)

	EncryptAEAD(key, nonce, plaintext, aad []byte) ([]byte, error)

	// DecryptAEAD returns ErrTamperOrCorruption when authentication fails.
	DecryptAEAD(key, nonce, ciphertext, aad []byte) ([]byte, error)

	// NewKey returns a fresh random symmetric key.
	NewKey() ([]byte, error)

	// NewNonce returns a fresh random nonce sized for EncryptAEAD.
	NewNonce() ([]byte, error)
}

// Option configures a provider.
type Option func(*options)

type options struct {
	rand io.Reader
}

// WithRand overrides the random source. Intended for tests.
func WithRand(r io.Reader) Option {
	return func(o *options) {
		o.rand = r
	}
}

// New returns the provider for suite. An empty suite selects DefaultSuite.
func New(suite string, opts ...Option) (Provider, error) {
	o := options{rand: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}

	switch suite {
	case "", SuiteX25519:
		return &x25519Provider{rand: o.rand}, nil
	case SuiteMLKEM768:
		return newMLKEMProvider(o.rand), nil
	default:
		return nil, fmt.Errorf("%w: unknown suite %q", kerrors.ErrSuiteMismatch, suite)
	}
}

// Suites lists the supported suite identifiers.
func Suites() []string {
	return []string{SuiteX25519, SuiteMLKEM768}
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}
