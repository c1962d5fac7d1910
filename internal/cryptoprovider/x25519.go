package cryptoprovider

import (
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var x25519WrapInfo = []byte("muna/x25519/wrap/v1")

type x25519Provider struct {
	rand io.Reader
}

func (p *x25519Provider) Suite() string { return SuiteX25519 }

func (p *x25519Provider) GenerateKeyPair() (KeyPair, error) {
	priv, err := randomBytes(p.rand, curve25519.ScalarSize)
	if err != nil {
		return KeyPair{}, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("deriving public key: %w", err)
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

func (p *x25519Provider) PublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize {
		return nil, fmt.Errorf("%w: x25519 private key is %d bytes", kerrors.ErrInvalidKeyLength, len(privateKey))
	}
	return curve25519.X25519(privateKey, curve25519.Basepoint)
}

func (p *x25519Provider) WrapKey(recipientPublicKey, key []byte) ([]byte, error) {
	if len(recipientPublicKey) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: x25519 public key is %d bytes", kerrors.ErrInvalidKeyLength, len(recipientPublicKey))
	}

	ephemeral, err := p.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer Wipe(ephemeral.PrivateKey)

	shared, err := curve25519.X25519(ephemeral.PrivateKey, recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}
	defer Wipe(shared)

	kek, err := deriveX25519KEK(shared, ephemeral.PublicKey, recipientPublicKey)
	if err != nil {
		return nil, err
	}
	defer Wipe(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(p.rand, chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ephemeral.PublicKey)+len(nonce)+len(key)+aead.Overhead())
	out = append(out, ephemeral.PublicKey...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, key, ephemeral.PublicKey), nil
}

func (p *x25519Provider) UnwrapKey(privateKey, wrapped []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize {
		return nil, fmt.Errorf("%w: x25519 private key is %d bytes", kerrors.ErrInvalidKeyLength, len(privateKey))
	}
	minLen := curve25519.PointSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(wrapped) < minLen {
		return nil, fmt.Errorf("%w: wrapped key too short", kerrors.ErrUnwrapFailed)
	}

	ephemeralPub := wrapped[:curve25519.PointSize]
	nonce := wrapped[curve25519.PointSize : curve25519.PointSize+chacha20poly1305.NonceSizeX]
	sealed := wrapped[curve25519.PointSize+chacha20poly1305.NonceSizeX:]

	recipientPub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrUnwrapFailed, err)
	}
	shared, err := curve25519.X25519(privateKey, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrUnwrapFailed, err)
	}
	defer Wipe(shared)

	kek, err := deriveX25519KEK(shared, ephemeralPub, recipientPub)
	if err != nil {
		return nil, err
	}
	defer Wipe(kek)

	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	key, err := aead.Open(nil, nonce, sealed, ephemeralPub)
	if err != nil {
		return nil, kerrors.ErrUnwrapFailed
	}
	return key, nil
}

func (p *x25519Provider) EncryptAEAD(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newXChaCha(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes", kerrors.ErrInvalidEnvelope, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (p *x25519Provider) DecryptAEAD(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newXChaCha(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes", kerrors.ErrInvalidEnvelope, len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, kerrors.ErrTamperOrCorruption
	}
	return plaintext, nil
}

func (p *x25519Provider) NewKey() ([]byte, error) {
	return randomBytes(p.rand, SymmetricKeySize)
}

func (p *x25519Provider) NewNonce() ([]byte, error) {
	return randomBytes(p.rand, chacha20poly1305.NonceSizeX)
}

func newXChaCha(key []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", kerrors.ErrInvalidKeyLength, len(key), chacha20poly1305.KeySize)
	}
	return chacha20poly1305.NewX(key)
}

func deriveX25519KEK(shared, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipientPub))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)

	kek := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, x25519WrapInfo), kek); err != nil {
		return nil, fmt.Errorf("deriving key-encryption key: %w", err)
	}
	return kek, nil
}

var _ Provider = (*x25519Provider)(nil)
