// Package audit records key lifecycle operations in a local audit trail.
//
// Identity registration, rotation, erasure, group rotation and media
// encryption are appended as JSON Lines to the data directory:
//
//	<data dir>/muna/audit.jsonl
//
// Entries carry the user ID, device, operation and non-secret details such
// as key versions, fingerprints and conversation epochs. Key material and
// plaintext are never written.
//
// # Failure Handling
//
// Audit logging is best-effort. Operations never fail because the audit log
// could not be written.
//
// # Reading Logs
//
// ReadEntries parses the log for `muna log`. Malformed lines are skipped so a
// partial write does not hide the rest of the trail.
package audit
