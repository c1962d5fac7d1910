package envelope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/identity"
	"github.com/PolarWolf314/muna/internal/keystore"
	"github.com/PolarWolf314/muna/internal/retry"
)

// staticKeys resolves private keys from a fixed map.
type staticKeys map[int][]byte

func (k staticKeys) PrivateKey(ctx context.Context, version int) ([]byte, error) {
	priv, ok := k[version]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", kerrors.ErrKeyVersionMissing, version)
	}
	return priv, nil
}

type recipient struct {
	cipher *Cipher
	pair   cryptoprovider.KeyPair
}

func newRecipient(t *testing.T, suite string) recipient {
	t.Helper()
	provider, err := cryptoprovider.New(suite)
	if err != nil {
		t.Fatalf("cryptoprovider.New failed: %v", err)
	}
	pair, err := provider.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return recipient{
		cipher: New(provider, WithKeys(staticKeys{1: pair.PrivateKey})),
		pair:   pair,
	}
}

func TestRoundTrip(t *testing.T) {
	for _, suite := range cryptoprovider.Suites() {
		t.Run(suite, func(t *testing.T) {
			ctx := context.Background()
			r := newRecipient(t, suite)

			env, err := r.cipher.EncryptText("see you at 8", r.pair.PublicKey, 1)
			if err != nil {
				t.Fatalf("EncryptText failed: %v", err)
			}
			if env.Kind != KindText || env.KeyVersion != 1 || env.Suite != suite {
				t.Errorf("envelope header = %s/%s/v%d, want %s/text/v1", env.Suite, env.Kind, env.KeyVersion, suite)
			}
			got, err := r.cipher.DecryptText(ctx, env)
			if err != nil {
				t.Fatalf("DecryptText failed: %v", err)
			}
			if got != "see you at 8" {
				t.Errorf("DecryptText() = %q", got)
			}

			blob := bytes.Repeat([]byte{0xAB, 0x00, 0xFF}, 4096)
			benv, err := r.cipher.EncryptBytes(blob, r.pair.PublicKey, 1)
			if err != nil {
				t.Fatalf("EncryptBytes failed: %v", err)
			}
			out, err := r.cipher.DecryptBytes(ctx, benv)
			if err != nil {
				t.Fatalf("DecryptBytes failed: %v", err)
			}
			if !bytes.Equal(out, blob) {
				t.Error("binary payload did not round-trip")
			}
		})
	}
}

func TestRoundTrip_EmptyPlaintext(t *testing.T) {
	r := newRecipient(t, cryptoprovider.SuiteX25519)
	env, err := r.cipher.EncryptText("", r.pair.PublicKey, 1)
	if err != nil {
		t.Fatalf("EncryptText failed: %v", err)
	}
	got, err := r.cipher.DecryptText(context.Background(), env)
	if err != nil {
		t.Fatalf("DecryptText failed: %v", err)
	}
	if got != "" {
		t.Errorf("DecryptText() = %q, want empty", got)
	}
}

func TestEncrypt_FreshKeyAndNonce(t *testing.T) {
	r := newRecipient(t, cryptoprovider.SuiteX25519)
	a, _ := r.cipher.EncryptText("same", r.pair.PublicKey, 1)
	b, _ := r.cipher.EncryptText("same", r.pair.PublicKey, 1)

	if bytes.Equal(a.IV, b.IV) {
		t.Error("two encryptions reused an IV")
	}
	if bytes.Equal(a.WrappedKey, b.WrappedKey) {
		t.Error("two encryptions produced the same wrapped key")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("two encryptions produced the same ciphertext")
	}
}

func flipBit(b []byte) []byte {
	out := append([]byte(nil), b...)
	out[len(out)/2] ^= 0x01
	return out
}

func TestDecrypt_TamperDetection(t *testing.T) {
	for _, suite := range cryptoprovider.Suites() {
		r := newRecipient(t, suite)
		tests := []struct {
			name   string
			mutate func(*EncryptedEnvelope)
			want   error
		}{
			{"ciphertext bit flip", func(e *EncryptedEnvelope) { e.Ciphertext = flipBit(e.Ciphertext) }, kerrors.ErrTamperOrCorruption},
			{"iv bit flip", func(e *EncryptedEnvelope) { e.IV = flipBit(e.IV) }, kerrors.ErrTamperOrCorruption},
			{"relabeled kind", func(e *EncryptedEnvelope) { e.Kind = KindBinary }, kerrors.ErrTamperOrCorruption},
			{"truncated ciphertext", func(e *EncryptedEnvelope) { e.Ciphertext = e.Ciphertext[:len(e.Ciphertext)-1] }, kerrors.ErrTamperOrCorruption},
			{"wrapped key bit flip", func(e *EncryptedEnvelope) { e.WrappedKey = flipBit(e.WrappedKey) }, kerrors.ErrUnwrapFailed},
			{"relabeled suite", func(e *EncryptedEnvelope) { e.Suite = "other" }, kerrors.ErrSuiteMismatch},
			{"missing iv", func(e *EncryptedEnvelope) { e.IV = nil }, kerrors.ErrInvalidEnvelope},
		}

		for _, tt := range tests {
			t.Run(suite+"/"+tt.name, func(t *testing.T) {
				env, err := r.cipher.EncryptText("attack at dawn", r.pair.PublicKey, 1)
				if err != nil {
					t.Fatalf("EncryptText failed: %v", err)
				}
				tt.mutate(env)

				plaintext, err := r.cipher.Decrypt(context.Background(), env)
				if !errors.Is(err, tt.want) {
					t.Errorf("Decrypt() error = %v, want %v", err, tt.want)
				}
				if plaintext != nil {
					t.Error("Decrypt returned plaintext alongside an error")
				}
			})
		}
	}
}

func TestDecrypt_MissingKeyVersion(t *testing.T) {
	r := newRecipient(t, cryptoprovider.SuiteX25519)
	env, err := r.cipher.EncryptText("hello", r.pair.PublicKey, 2)
	if err != nil {
		t.Fatalf("EncryptText failed: %v", err)
	}
	if _, err := r.cipher.Decrypt(context.Background(), env); !errors.Is(err, kerrors.ErrKeyVersionMissing) {
		t.Errorf("expected ErrKeyVersionMissing, got %v", err)
	}
}

func TestDecrypt_WrongRecipient(t *testing.T) {
	alice := newRecipient(t, cryptoprovider.SuiteX25519)
	bob := newRecipient(t, cryptoprovider.SuiteX25519)

	env, err := alice.cipher.EncryptText("for alice", alice.pair.PublicKey, 1)
	if err != nil {
		t.Fatalf("EncryptText failed: %v", err)
	}
	if _, err := bob.cipher.Decrypt(context.Background(), env); !errors.Is(err, kerrors.ErrUnwrapFailed) {
		t.Errorf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestDecrypt_WithoutKeys(t *testing.T) {
	r := newRecipient(t, cryptoprovider.SuiteX25519)
	env, _ := r.cipher.EncryptText("hello", r.pair.PublicKey, 1)

	bare := New(r.cipher.Provider())
	if _, err := bare.Decrypt(context.Background(), env); !errors.Is(err, kerrors.ErrNoLocalIdentity) {
		t.Errorf("expected ErrNoLocalIdentity, got %v", err)
	}
}

func TestDecryptText_RejectsBinaryEnvelope(t *testing.T) {
	r := newRecipient(t, cryptoprovider.SuiteX25519)
	env, _ := r.cipher.EncryptBytes([]byte{1, 2, 3}, r.pair.PublicKey, 1)

	if _, err := r.cipher.DecryptText(context.Background(), env); !errors.Is(err, kerrors.ErrInvalidEnvelope) {
		t.Errorf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestEncryptForUser(t *testing.T) {
	ctx := context.Background()
	provider, _ := cryptoprovider.New(cryptoprovider.SuiteX25519)
	dir := directory.NewMemory()

	bobStore := keystore.NewLocalKeyStore(keystore.NewMemoryStorage(), "bob")
	bob := identity.NewManager(bobStore, dir, provider, identity.WithRetryPolicy(retry.Policy{}))
	if _, err := bob.RegisterIdentity(ctx); err != nil {
		t.Fatalf("RegisterIdentity failed: %v", err)
	}

	sender := New(provider, WithDirectory(dir), WithRetryPolicy(retry.Policy{}))
	if _, err := sender.EncryptForUser(ctx, "nobody", KindText, []byte("hi")); !errors.Is(err, kerrors.ErrRecipientKeyUnavailable) {
		t.Errorf("expected ErrRecipientKeyUnavailable, got %v", err)
	}

	env, err := sender.EncryptForUser(ctx, "bob", KindText, []byte("hi bob"))
	if err != nil {
		t.Fatalf("EncryptForUser failed: %v", err)
	}
	receiver := New(provider, WithKeys(bob))
	got, err := receiver.DecryptText(ctx, env)
	if err != nil {
		t.Fatalf("DecryptText failed: %v", err)
	}
	if got != "hi bob" {
		t.Errorf("DecryptText() = %q", got)
	}
}

func TestRotation_KeepsOldEnvelopesReadable(t *testing.T) {
	ctx := context.Background()
	provider, _ := cryptoprovider.New(cryptoprovider.SuiteX25519)
	dir := directory.NewMemory()
	bob := identity.NewManager(keystore.NewLocalKeyStore(keystore.NewMemoryStorage(), "bob"), dir, provider,
		identity.WithRetryPolicy(retry.Policy{}))
	if _, err := bob.RegisterIdentity(ctx); err != nil {
		t.Fatalf("RegisterIdentity failed: %v", err)
	}

	sender := New(provider, WithDirectory(dir), WithRetryPolicy(retry.Policy{}))
	old, err := sender.EncryptForUser(ctx, "bob", KindText, []byte("before rotation"))
	if err != nil {
		t.Fatalf("EncryptForUser failed: %v", err)
	}

	if _, err := bob.RotateIdentity(ctx); err != nil {
		t.Fatalf("RotateIdentity failed: %v", err)
	}
	fresh, err := sender.EncryptForUser(ctx, "bob", KindText, []byte("after rotation"))
	if err != nil {
		t.Fatalf("EncryptForUser failed: %v", err)
	}
	if old.KeyVersion != 1 || fresh.KeyVersion != 2 {
		t.Fatalf("key versions = %d, %d; want 1, 2", old.KeyVersion, fresh.KeyVersion)
	}

	receiver := New(provider, WithKeys(bob))
	for _, env := range []*EncryptedEnvelope{old, fresh} {
		if _, err := receiver.Decrypt(ctx, env); err != nil {
			t.Errorf("Decrypt(v%d) failed: %v", env.KeyVersion, err)
		}
	}

	if err := bob.EraseIdentity(ctx); err != nil {
		t.Fatalf("EraseIdentity failed: %v", err)
	}
	if _, err := receiver.Decrypt(ctx, old); !errors.Is(err, kerrors.ErrNoLocalIdentity) {
		t.Errorf("Decrypt after erase: expected ErrNoLocalIdentity, got %v", err)
	}
}
