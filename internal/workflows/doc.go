// Package workflows provides high-level orchestration for muna commands.
//
// Workflows wire configuration, secure storage, the key directory and the
// crypto components into complete user-facing features. Each workflow handles
// a single command's business logic, independent of CLI concerns like flag
// parsing, spinners, and output formatting.
//
// # Design Philosophy
//
// The cmd/ package should be a thin layer that:
//   - Parses command-line flags and arguments
//   - Calls the appropriate workflow function
//   - Formats the result for display
//
// Workflows handle everything else:
//   - Loading configuration and opening key storage (Open)
//   - Performing the core operation through identity, envelope and group
//   - Recording audit trail entries
//
// # Available Workflows
//
//   - InitConfig: writes the user config with a fresh user ID
//   - Register, Rotate, Erase, Status: identity key lifecycle
//   - EncryptMessage, DecryptMessage: one-to-one text envelopes
//   - EncryptMedia, DecryptMedia: binary envelopes for files
//   - SetMembers, Members, RotateGroup, GroupKey: conversation epochs
//   - EncryptGroupMessage, DecryptGroupMessage: group envelopes
//   - Serve: the HTTP key directory
//
// # Error Handling
//
// Workflows return typed errors from the internal/errors package so the CLI
// can explain them without string matching:
//
//	armored, err := workflows.EncryptMessage(ctx, env, opts)
//	if errors.Is(err, kerrors.ErrRecipientKeyUnavailable) {
//	    // The message is not sent; there is no plaintext fallback.
//	}
package workflows
