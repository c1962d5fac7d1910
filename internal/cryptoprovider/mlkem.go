package cryptoprovider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

const (
	aesGCMNonceSize = 12
	aesGCMTagSize   = 16
)

var mlkemWrapInfo = []byte("muna/mlkem768/wrap/v1")

type mlkemProvider struct {
	rand   io.Reader
	scheme kem.Scheme
}

func newMLKEMProvider(r io.Reader) *mlkemProvider {
	return &mlkemProvider{rand: r, scheme: mlkem768.Scheme()}
}

func (p *mlkemProvider) Suite() string { return SuiteMLKEM768 }

func (p *mlkemProvider) GenerateKeyPair() (KeyPair, error) {
	seed, err := randomBytes(p.rand, p.scheme.SeedSize())
	if err != nil {
		return KeyPair{}, err
	}
	defer Wipe(seed)

	pk, sk := p.scheme.DeriveKeyPair(seed)

	pub, err := pk.MarshalBinary()
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshaling public key: %w", err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshaling private key: %w", err)
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

func (p *mlkemProvider) PublicKey(privateKey []byte) ([]byte, error) {
	sk, err := p.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidKeyLength, err)
	}
	return sk.Public().MarshalBinary()
}

func (p *mlkemProvider) WrapKey(recipientPublicKey, key []byte) ([]byte, error) {
	pk, err := p.scheme.UnmarshalBinaryPublicKey(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidKeyLength, err)
	}

	kemCiphertext, shared, err := p.scheme.Encapsulate(pk)
	if err != nil {
		return nil, fmt.Errorf("encapsulating: %w", err)
	}
	defer Wipe(shared)

	kek, err := deriveMLKEMKEK(shared, kemCiphertext)
	if err != nil {
		return nil, err
	}
	defer Wipe(kek)

	gcm, err := newAESGCM(kek)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(p.rand, aesGCMNonceSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(kemCiphertext)+len(nonce)+len(key)+aesGCMTagSize)
	out = append(out, kemCiphertext...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, key, kemCiphertext), nil
}

func (p *mlkemProvider) UnwrapKey(privateKey, wrapped []byte) ([]byte, error) {
	sk, err := p.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidKeyLength, err)
	}

	ctSize := p.scheme.CiphertextSize()
	if len(wrapped) < ctSize+aesGCMNonceSize+aesGCMTagSize {
		return nil, fmt.Errorf("%w: wrapped key too short", kerrors.ErrUnwrapFailed)
	}
	kemCiphertext := wrapped[:ctSize]
	nonce := wrapped[ctSize : ctSize+aesGCMNonceSize]
	sealed := wrapped[ctSize+aesGCMNonceSize:]

	shared, err := p.scheme.Decapsulate(sk, kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrUnwrapFailed, err)
	}
	defer Wipe(shared)

	kek, err := deriveMLKEMKEK(shared, kemCiphertext)
	if err != nil {
		return nil, err
	}
	defer Wipe(kek)

	gcm, err := newAESGCM(kek)
	if err != nil {
		return nil, err
	}
	key, err := gcm.Open(nil, nonce, sealed, kemCiphertext)
	if err != nil {
		return nil, kerrors.ErrUnwrapFailed
	}
	return key, nil
}

func (p *mlkemProvider) EncryptAEAD(key, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes", kerrors.ErrInvalidEnvelope, len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

func (p *mlkemProvider) DecryptAEAD(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes", kerrors.ErrInvalidEnvelope, len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, kerrors.ErrTamperOrCorruption
	}
	return plaintext, nil
}

func (p *mlkemProvider) NewKey() ([]byte, error) {
	return randomBytes(p.rand, SymmetricKeySize)
}

func (p *mlkemProvider) NewNonce() ([]byte, error) {
	return randomBytes(p.rand, aesGCMNonceSize)
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", kerrors.ErrInvalidKeyLength, len(key), SymmetricKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func deriveMLKEMKEK(shared, kemCiphertext []byte) ([]byte, error) {
	kek := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, shared, kemCiphertext, mlkemWrapInfo), kek); err != nil {
		return nil, fmt.Errorf("deriving key-encryption key: %w", err)
	}
	return kek, nil
}

var _ Provider = (*mlkemProvider)(nil)
