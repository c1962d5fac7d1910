package directory

import (
	"context"
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

// PublishedKey is one version of a user's public identity key.
type PublishedKey struct {
	UserID    string    `json:"user_id"`
	PublicKey []byte    `json:"public_key"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	Suite     string    `json:"suite"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationKeyRecord is one member's copy of a conversation epoch key,
// wrapped to that member's identity key.
type ConversationKeyRecord struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	WrappedKey     []byte `json:"wrapped_key"`
	// KeyVersion is the member's identity key version used to wrap.
	KeyVersion int `json:"key_version"`
	// Epoch is the conversation key version.
	Epoch int `json:"epoch"`
	// Recipients is the sorted member set the epoch was issued to.
	Recipients []string  `json:"recipients,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate reports whether the record can be stored.
func (r ConversationKeyRecord) Validate() error {
	switch {
	case r.ConversationID == "":
		return fmt.Errorf("%w: missing conversation id", kerrors.ErrInvalidEnvelope)
	case r.UserID == "":
		return fmt.Errorf("%w: missing user id", kerrors.ErrInvalidEnvelope)
	case len(r.WrappedKey) == 0:
		return fmt.Errorf("%w: missing wrapped key", kerrors.ErrInvalidEnvelope)
	case r.KeyVersion < 1:
		return fmt.Errorf("%w: key version %d", kerrors.ErrInvalidEnvelope, r.KeyVersion)
	case r.Epoch < 1:
		return fmt.Errorf("%w: epoch %d", kerrors.ErrInvalidEnvelope, r.Epoch)
	}
	return nil
}

// Directory publishes and resolves users' public identity keys.
type Directory interface {
	// Publish records publicKey as the user's newest version and returns the
	// version assigned. Publishing the current newest key again returns its
	// existing version.
	Publish(ctx context.Context, userID string, publicKey []byte, suite string) (int, error)

	// Fetch returns the newest active key, or ErrNotFound.
	Fetch(ctx context.Context, userID string) (PublishedKey, error)

	// FetchVersion returns a specific version, active or not, or ErrNotFound.
	FetchVersion(ctx context.Context, userID string, version int) (PublishedKey, error)

	// Deactivate marks every version below belowVersion inactive.
	Deactivate(ctx context.Context, userID string, belowVersion int) error
}

// WrappedKeyStore holds conversation key records.
type WrappedKeyStore interface {
	// Upsert inserts or replaces the record for (conversation, user, epoch).
	Upsert(ctx context.Context, rec ConversationKeyRecord) error

	// FetchLatest returns the user's highest-epoch record, or ErrNotFound.
	FetchLatest(ctx context.Context, conversationID, userID string) (ConversationKeyRecord, error)

	// FetchEpoch returns the user's record for epoch, or ErrNotFound.
	FetchEpoch(ctx context.Context, conversationID, userID string, epoch int) (ConversationKeyRecord, error)

	// LatestEpoch returns the highest epoch stored for the conversation, or 0.
	LatestEpoch(ctx context.Context, conversationID string) (int, error)

	// ListEpoch returns every record stored for epoch, ordered by user id.
	ListEpoch(ctx context.Context, conversationID string, epoch int) ([]ConversationKeyRecord, error)
}

// Membership resolves the current members of a conversation.
type Membership interface {
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// MembershipWriter is implemented by membership sources that can be edited.
type MembershipWriter interface {
	Membership
	SetMembers(ctx context.Context, conversationID string, members []string) error
}

// Backend bundles every collaborator. Both Memory and Client implement it.
type Backend interface {
	Directory
	WrappedKeyStore
	MembershipWriter
}
