package envelope

import (
	"fmt"
	"strconv"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// Kind tags what the payload is so receivers decode it correctly.
type Kind string

const (
	KindText   Kind = "text"
	KindBinary Kind = "binary"
)

func (k Kind) valid() bool {
	return k == KindText || k == KindBinary
}

// EncryptedEnvelope is the only form in which message content leaves the device.
type EncryptedEnvelope struct {
	Suite      string `json:"suite"`
	Kind       Kind   `json:"kind"`
	KeyVersion int    `json:"key_version"`
	WrappedKey []byte `json:"wrapped_key"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
}

// Validate checks the envelope is structurally complete.
func (e *EncryptedEnvelope) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil envelope", kerrors.ErrInvalidEnvelope)
	case e.Suite == "":
		return fmt.Errorf("%w: missing suite", kerrors.ErrInvalidEnvelope)
	case !e.Kind.valid():
		return fmt.Errorf("%w: unknown kind %q", kerrors.ErrInvalidEnvelope, e.Kind)
	case e.KeyVersion < 1:
		return fmt.Errorf("%w: key version %d", kerrors.ErrInvalidEnvelope, e.KeyVersion)
	case len(e.WrappedKey) == 0:
		return fmt.Errorf("%w: missing wrapped key", kerrors.ErrInvalidEnvelope)
	case len(e.IV) == 0:
		return fmt.Errorf("%w: missing iv", kerrors.ErrInvalidEnvelope)
	case len(e.Ciphertext) == 0:
		return fmt.Errorf("%w: missing ciphertext", kerrors.ErrInvalidEnvelope)
	}
	return nil
}

func associatedData(suite string, kind Kind, keyVersion int) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, "muna/envelope/v1"...)
	ad = append(ad, 0)
	ad = append(ad, suite...)
	ad = append(ad, 0)
	ad = append(ad, kind...)
	ad = append(ad, 0)
	ad = strconv.AppendInt(ad, int64(keyVersion), 10)
	return ad
}
