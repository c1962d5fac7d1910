package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// ArmorPrefix marks an armored single-recipient envelope.
const ArmorPrefix = "muna1."

// Marshal encodes env as JSON with base64 byte fields.
func Marshal(env *EncryptedEnvelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes and validates a JSON envelope.
func Unmarshal(data []byte) (*EncryptedEnvelope, error) {
	var env EncryptedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Armor encodes env as a single copy-pasteable line.
func Armor(env *EncryptedEnvelope) (string, error) {
	if err := env.Validate(); err != nil {
		return "", err
	}
	return EncodeArmor(ArmorPrefix, env)
}

// Dearmor reverses Armor.
func Dearmor(s string) (*EncryptedEnvelope, error) {
	var env EncryptedEnvelope
	if err := DecodeArmor(ArmorPrefix, s, &env); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// EncodeArmor renders v as prefix followed by unpadded base64url JSON.
func EncodeArmor(prefix string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeArmor parses text produced by EncodeArmor with the same prefix.
// Surrounding whitespace is ignored.
func DecodeArmor(prefix, s string, v any) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, prefix) {
		return fmt.Errorf("%w: expected armor prefix %q", kerrors.ErrInvalidEnvelope, prefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrInvalidEnvelope, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrInvalidEnvelope, err)
	}
	return nil
}
