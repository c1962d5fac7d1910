package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/PolarWolf314/muna/internal/envelope"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/group"
)

// MessageOptions configures EncryptMessage.
type MessageOptions struct {
	// Recipient is the user ID to encrypt for.
	Recipient string
	Text      []byte
}

// EncryptMessage encrypts text for one recipient and returns an armored envelope.
//
// Returns ErrRecipientKeyUnavailable if the recipient has no published key.
// The message must then not be sent; there is no unencrypted fallback.
func EncryptMessage(ctx context.Context, env *Env, opts MessageOptions) (string, error) {
	if opts.Recipient == "" {
		return "", fmt.Errorf("%w: no recipient", kerrors.ErrRecipientKeyUnavailable)
	}
	enc, err := env.Cipher.EncryptForUser(ctx, opts.Recipient, envelope.KindText, opts.Text)
	if err != nil {
		return "", err
	}
	return envelope.Armor(enc)
}

// DecryptMessage decrypts an armored envelope addressed to this user.
// Group and epoch envelopes are accepted too.
//
// Returns ErrKeyVersionMissing if the referenced key version is not held locally.
// Returns ErrTamperOrCorruption if the content fails authentication.
func DecryptMessage(ctx context.Context, env *Env, armored string) (string, error) {
	armored = strings.TrimSpace(armored)
	if isGroupArmor(armored) {
		return DecryptGroupMessage(ctx, env, armored)
	}

	enc, err := envelope.Dearmor(armored)
	if err != nil {
		return "", err
	}
	return env.Cipher.DecryptText(ctx, enc)
}

func isGroupArmor(s string) bool {
	return strings.HasPrefix(s, group.GroupArmorPrefix) || strings.HasPrefix(s, group.EpochArmorPrefix)
}
