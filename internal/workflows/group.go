package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PolarWolf314/muna/internal/audit"
	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/group"
)

// SetMembers replaces a conversation's member list.
//
// Returns ErrDuplicateMember if a user ID appears twice.
func SetMembers(ctx context.Context, env *Env, conversationID string, members []string) ([]string, error) {
	normalized, err := directory.NormalizeMembers(members)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return nil, kerrors.ErrEmptyMembership
	}
	if err := env.Backend.SetMembers(ctx, conversationID, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Members returns a conversation's current members.
func Members(ctx context.Context, env *Env, conversationID string) ([]string, error) {
	return env.Backend.Members(ctx, conversationID)
}

// RotateGroupOptions configures RotateGroup.
type RotateGroupOptions struct {
	ConversationID string
	// Force creates a new epoch even if the latest already covers the members.
	Force bool
	// RetryPending retries records that failed to store once before returning.
	RetryPending bool
}

// RotateGroup creates a new epoch key for the conversation's current members
// or reuses the latest epoch when it was issued to exactly those members.
// A reused epoch is completed for recipients that never received it.
//
// A partial failure is not an error: the result lists Pending members.
// Returns ErrMembershipChanged if membership kept changing during rotation.
func RotateGroup(ctx context.Context, env *Env, opts RotateGroupOptions) (*group.RotationResult, error) {
	res, err := env.Group.RotateGroupKey(ctx, opts.ConversationID, group.RotateOptions{Force: opts.Force})

	op := audit.OpGroupRotate
	if err == nil && !res.Complete() && opts.RetryPending {
		if retryErr := res.Retry(ctx); retryErr != nil {
			env.Log.Warnf("retrying pending members of %s: %v", opts.ConversationID, retryErr)
		}
		op = audit.OpGroupRetry
	}

	entry := audit.LogWithUser(op)
	entry.Conversation = opts.ConversationID
	if res != nil {
		entry.Epoch = res.Epoch
		entry.Members = len(res.Wrapped)
		entry.Degraded = res.Degraded
		entry.Pending = res.Pending
	}
	if err != nil {
		entry.Error = err.Error()
	}
	audit.Log(entry)

	return res, err
}

// GroupKeyInfo describes this user's latest epoch key without exposing it.
type GroupKeyInfo struct {
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	Epoch          int       `json:"epoch" yaml:"epoch"`
	KeyVersion     int       `json:"key_version" yaml:"key_version"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	// Usable is true when the local identity can unwrap the epoch key.
	Usable bool `json:"usable" yaml:"usable"`
}

// GroupKey looks up this user's latest wrapped key for the conversation and
// checks that it unwraps.
//
// Returns ErrNotMember if this user holds no record for the conversation.
func GroupKey(ctx context.Context, env *Env, conversationID string) (*GroupKeyInfo, error) {
	rec, err := env.Group.GetMyWrappedKey(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	info := &GroupKeyInfo{
		ConversationID: rec.ConversationID,
		Epoch:          rec.Epoch,
		KeyVersion:     rec.KeyVersion,
		CreatedAt:      rec.CreatedAt,
	}
	if key, err := env.Group.EpochKey(ctx, conversationID, rec.Epoch); err == nil {
		info.Usable = true
		cryptoprovider.Wipe(key)
	} else {
		env.Log.Debugf("epoch %d of %s does not unwrap: %v", rec.Epoch, conversationID, err)
	}
	return info, nil
}

// GroupMessageOptions configures EncryptGroupMessage.
type GroupMessageOptions struct {
	// ConversationID selects the stored epoch key path.
	ConversationID string
	// Members, when set, encrypts one message to these users directly
	// instead of using a stored epoch.
	Members []string
	// AllowDegraded sends to the resolvable members when some have no key.
	AllowDegraded bool
	Text          []byte
}

// GroupMessageResult contains an armored group message.
type GroupMessageResult struct {
	Armored string
	// Degraded lists members the message was not encrypted for.
	Degraded []string
	// Epoch is set for epoch messages.
	Epoch int
}

// EncryptGroupMessage encrypts text for a conversation epoch or an explicit member list.
//
// Returns ErrRecipientKeyUnavailable if members lack keys and AllowDegraded is false.
// Returns ErrNotMember if this user has no record for the latest epoch.
func EncryptGroupMessage(ctx context.Context, env *Env, opts GroupMessageOptions) (*GroupMessageResult, error) {
	if len(opts.Members) == 0 {
		if opts.ConversationID == "" {
			return nil, fmt.Errorf("a conversation or member list is required")
		}
		enc, err := env.Group.EncryptWithEpoch(ctx, opts.ConversationID, opts.Text)
		if err != nil {
			return nil, err
		}
		armored, err := group.ArmorEpoch(enc)
		if err != nil {
			return nil, err
		}
		return &GroupMessageResult{Armored: armored, Epoch: enc.Epoch}, nil
	}

	members, err := directory.NormalizeMembers(opts.Members)
	if err != nil {
		return nil, err
	}
	keys, degraded, err := env.Group.ResolveMembers(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(degraded) > 0 && !opts.AllowDegraded {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrRecipientKeyUnavailable, strings.Join(degraded, ", "))
	}
	if len(keys) == 0 {
		return nil, kerrors.ErrEmptyMembership
	}

	enc, err := env.Group.EncryptForGroup(ctx, opts.Text, keys)
	if err != nil {
		return nil, err
	}
	armored, err := group.ArmorGroup(enc)
	if err != nil {
		return nil, err
	}
	return &GroupMessageResult{Armored: armored, Degraded: degraded}, nil
}

// DecryptGroupMessage decrypts an armored group or epoch envelope.
//
// Returns ErrNotMember if the envelope has no wrapped key for this user.
// Returns ErrKeyVersionMissing if this user never received the referenced epoch.
func DecryptGroupMessage(ctx context.Context, env *Env, armored string) (string, error) {
	armored = strings.TrimSpace(armored)

	var (
		plaintext []byte
		err       error
	)
	switch {
	case strings.HasPrefix(armored, group.EpochArmorPrefix):
		var enc *group.EpochEnvelope
		if enc, err = group.DearmorEpoch(armored); err != nil {
			return "", err
		}
		plaintext, err = env.Group.DecryptEpoch(ctx, enc)
	case strings.HasPrefix(armored, group.GroupArmorPrefix):
		var enc *group.GroupEnvelope
		if enc, err = group.DearmorGroup(armored); err != nil {
			return "", err
		}
		plaintext, err = env.Group.DecryptGroup(ctx, enc)
	default:
		return "", fmt.Errorf("%w: not a group message", kerrors.ErrInvalidEnvelope)
	}
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
