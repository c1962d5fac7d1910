// Package errors provides typed error values for muna.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching.
//
// # Error Categories
//
//   - Identity errors: ErrNoLocalIdentity, ErrKeyVersionMissing, ErrVersionConflict
//   - Recipient errors: ErrRecipientKeyUnavailable, ErrNotFound
//   - Crypto errors: ErrTamperOrCorruption, ErrUnwrapFailed, ErrInvalidEnvelope
//   - Service errors: ErrDirectoryOrStoreFailure (transient, retried with backoff)
//   - Group errors: ErrEmptyMembership, ErrDuplicateMember, ErrMembershipChanged
//
// # Usage
//
// Wrap errors with additional context:
//
//	return fmt.Errorf("decrypting envelope v%d: %w", env.KeyVersion, errors.ErrKeyVersionMissing)
//
// Handle errors in the CLI layer:
//
//	plaintext, err := workflows.DecryptMessage(ctx, opts)
//	if errors.Is(err, kerrors.ErrTamperOrCorruption) {
//	    // Never display the content.
//	}
//
// A failed decryption never yields partial or unauthenticated plaintext.
package errors
