package keystore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltKey    = "muna/.sealed/salt"
	checkKey   = "muna/.sealed/check"
	checkValue = "muna-sealed-storage-v1"
	saltSize   = 16
	nonceSize  = 24
)

// ErrWrongPassphrase is returned when sealed storage cannot be opened with the given passphrase.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key storage")

// SealedStorage seals values before handing them to the inner storage.
type SealedStorage struct {
	inner SecureStorage
	key   [32]byte
}

// NewSealedStorage derives a sealing key from passphrase with argon2id.
// On first use it records a salt and a check value; afterwards a wrong
// passphrase fails here with ErrWrongPassphrase instead of on the first read.
func NewSealedStorage(ctx context.Context, inner SecureStorage, passphrase []byte) (*SealedStorage, error) {
	salt, fresh, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}

	s := &SealedStorage{inner: inner}
	derived := argon2.IDKey(passphrase, salt, 2, 64*1024, 1, 32)
	copy(s.key[:], derived)
	cryptoprovider.Wipe(derived)

	if fresh {
		if err := s.Set(ctx, checkKey, checkValue); err != nil {
			return nil, fmt.Errorf("writing passphrase check: %w", err)
		}
		return s, nil
	}

	got, err := s.Get(ctx, checkKey)
	if errors.Is(err, kerrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: passphrase check missing", ErrWrongPassphrase)
	}
	if err != nil {
		return nil, err
	}
	if got != checkValue {
		return nil, ErrWrongPassphrase
	}
	return s, nil
}

func loadOrCreateSalt(ctx context.Context, inner SecureStorage) ([]byte, bool, error) {
	encoded, err := inner.Get(ctx, saltKey)
	if err == nil {
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(salt) != saltSize {
			return nil, false, fmt.Errorf("%w: invalid salt", ErrWrongPassphrase)
		}
		return salt, false, nil
	}
	if !errors.Is(err, kerrors.ErrNotFound) {
		return nil, false, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, false, fmt.Errorf("generating salt: %w", err)
	}
	if err := inner.Set(ctx, saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, false, fmt.Errorf("saving salt: %w", err)
	}
	return salt, true, nil
}

func (s *SealedStorage) Get(ctx context.Context, key string) (string, error) {
	encoded, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrWrongPassphrase
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrWrongPassphrase
	}
	return string(plaintext), nil
}

func (s *SealedStorage) Set(ctx context.Context, key, value string) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *SealedStorage) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

var _ SecureStorage = (*SealedStorage)(nil)
