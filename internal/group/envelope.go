package group

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/PolarWolf314/muna/internal/envelope"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// Armor prefixes for group message shapes.
const (
	GroupArmorPrefix = "munag1."
	EpochArmorPrefix = "munae1."
)

// MemberKey is a member's published identity key.
type MemberKey struct {
	UserID     string
	PublicKey  []byte
	KeyVersion int
}

// WrappedKey is one member's copy of a payload key.
type WrappedKey struct {
	WrappedKey []byte `json:"wrapped_key"`
	KeyVersion int    `json:"key_version"`
}

// GroupEnvelope is a payload encrypted once and addressed to many members.
type GroupEnvelope struct {
	Suite       string                `json:"suite"`
	IV          []byte                `json:"iv"`
	Ciphertext  []byte                `json:"ciphertext"`
	WrappedKeys map[string]WrappedKey `json:"wrapped_keys"`
}

func (e *GroupEnvelope) validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil group envelope", kerrors.ErrInvalidEnvelope)
	case e.Suite == "":
		return fmt.Errorf("%w: missing suite", kerrors.ErrInvalidEnvelope)
	case len(e.IV) == 0 || len(e.Ciphertext) == 0:
		return fmt.Errorf("%w: missing iv or ciphertext", kerrors.ErrInvalidEnvelope)
	case len(e.WrappedKeys) == 0:
		return fmt.Errorf("%w: no recipients", kerrors.ErrInvalidEnvelope)
	}
	return nil
}

// Recipients lists the user ids the envelope is addressed to.
func (e *GroupEnvelope) Recipients() []string {
	out := make([]string, 0, len(e.WrappedKeys))
	for id := range e.WrappedKeys {
		out = append(out, id)
	}
	return sortedCopy(out)
}

// EpochEnvelope is a payload encrypted under a stored conversation epoch key.
type EpochEnvelope struct {
	Suite          string `json:"suite"`
	ConversationID string `json:"conversation_id"`
	Epoch          int    `json:"epoch"`
	IV             []byte `json:"iv"`
	Ciphertext     []byte `json:"ciphertext"`
}

func (e *EpochEnvelope) validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil epoch envelope", kerrors.ErrInvalidEnvelope)
	case e.Suite == "" || e.ConversationID == "":
		return fmt.Errorf("%w: missing suite or conversation", kerrors.ErrInvalidEnvelope)
	case e.Epoch < 1:
		return fmt.Errorf("%w: epoch %d", kerrors.ErrInvalidEnvelope, e.Epoch)
	case len(e.IV) == 0 || len(e.Ciphertext) == 0:
		return fmt.Errorf("%w: missing iv or ciphertext", kerrors.ErrInvalidEnvelope)
	}
	return nil
}

func groupAssociatedData(suite string) []byte {
	return []byte("muna/group/v1\x00" + suite)
}

func epochAssociatedData(suite, conversationID string, epoch int) []byte {
	ad := []byte("muna/epoch/v1\x00" + suite + "\x00" + conversationID + "\x00")
	return strconv.AppendInt(ad, int64(epoch), 10)
}

// MarshalEnvelope encodes a group envelope as JSON.
func MarshalEnvelope(env *GroupEnvelope) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes and validates a JSON group envelope.
func UnmarshalEnvelope(data []byte) (*GroupEnvelope, error) {
	var env GroupEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidEnvelope, err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// ArmorGroup renders env as a single copy-pasteable line.
func ArmorGroup(env *GroupEnvelope) (string, error) {
	if err := env.validate(); err != nil {
		return "", err
	}
	return envelope.EncodeArmor(GroupArmorPrefix, env)
}

// DearmorGroup reverses ArmorGroup.
func DearmorGroup(s string) (*GroupEnvelope, error) {
	var env GroupEnvelope
	if err := envelope.DecodeArmor(GroupArmorPrefix, s, &env); err != nil {
		return nil, err
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// ArmorEpoch renders env as a single copy-pasteable line.
func ArmorEpoch(env *EpochEnvelope) (string, error) {
	if err := env.validate(); err != nil {
		return "", err
	}
	return envelope.EncodeArmor(EpochArmorPrefix, env)
}

// DearmorEpoch reverses ArmorEpoch.
func DearmorEpoch(s string) (*EpochEnvelope, error) {
	var env EpochEnvelope
	if err := envelope.DecodeArmor(EpochArmorPrefix, s, &env); err != nil {
		return nil, err
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
