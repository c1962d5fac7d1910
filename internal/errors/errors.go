package errors

import "errors"

// Identity errors indicate problems with the local identity key pair.
var (
	// ErrNoLocalIdentity indicates no identity key is held on this device,
	// either because it was never registered or because local storage was cleared.
	ErrNoLocalIdentity = errors.New("no local identity key")

	// ErrKeyVersionMissing indicates an envelope references a private key
	// version that is not held locally. Without a backup channel this is permanent.
	ErrKeyVersionMissing = errors.New("key version not held locally")

	// ErrVersionConflict indicates the directory assigned a different version
	// than the one persisted locally.
	ErrVersionConflict = errors.New("key version conflict")
)

// Recipient errors indicate a participant cannot be encrypted for.
var (
	// ErrRecipientKeyUnavailable indicates the directory has no active key for a participant.
	ErrRecipientKeyUnavailable = errors.New("recipient has no published key")

	// ErrNotFound indicates a directory or store lookup found nothing.
	ErrNotFound = errors.New("not found")
)

// Cryptographic errors indicate failures during encryption or decryption.
var (
	// ErrTamperOrCorruption indicates AEAD authentication failed. The content
	// must be treated as untrusted and never displayed.
	ErrTamperOrCorruption = errors.New("authentication failed: content tampered or corrupted")

	// ErrUnwrapFailed indicates a wrapped symmetric key could not be unwrapped.
	ErrUnwrapFailed = errors.New("failed to unwrap symmetric key")

	// ErrInvalidEnvelope indicates an envelope is structurally malformed.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrSuiteMismatch indicates an envelope or key was produced by a different primitive suite.
	ErrSuiteMismatch = errors.New("cipher suite mismatch")

	// ErrInvalidKeyLength indicates a key has an unexpected length.
	ErrInvalidKeyLength = errors.New("invalid key length")
)

// Service errors indicate failures talking to the key directory or wrapped-key store.
var (
	// ErrDirectoryOrStoreFailure indicates a transient network or service error.
	// Operations that fail with it are safe to retry.
	ErrDirectoryOrStoreFailure = errors.New("key directory or store failure")
)

// Group errors indicate problems with conversation membership or epochs.
var (
	// ErrEmptyMembership indicates a group operation was given no members.
	ErrEmptyMembership = errors.New("conversation has no members")

	// ErrDuplicateMember indicates the same user appears twice in a member list.
	ErrDuplicateMember = errors.New("duplicate member")

	// ErrMembershipChanged indicates membership kept changing while a rotation was being computed.
	ErrMembershipChanged = errors.New("membership changed during rotation")

	// ErrNotMember indicates the caller is not a member of the conversation.
	ErrNotMember = errors.New("not a member of this conversation")
)

// Configuration errors indicate the local setup is incomplete.
var (
	// ErrNotConfigured indicates the user configuration has not been initialized.
	ErrNotConfigured = errors.New("muna has not been configured")

	// ErrInvalidConfig indicates the configuration is malformed.
	ErrInvalidConfig = errors.New("configuration is invalid")

	// ErrFileNotFound indicates a specific file could not be located.
	ErrFileNotFound = errors.New("file not found")

	// ErrNoFilesFound indicates no files matched the provided patterns.
	ErrNoFilesFound = errors.New("no matching files found")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDirectoryOrStoreFailure)
}
