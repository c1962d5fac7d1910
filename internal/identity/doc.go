// Package identity manages the signed-in user's identity key pair: generation,
// registration with the key directory, rotation and erasure.
//
// Registration is safe to repeat after any partial failure. The private key is
// persisted locally before the public key is published, and a later call
// resumes from whichever step did not complete instead of generating a second
// key. Rotation supersedes the active key without deleting older versions, so
// envelopes that reference them stay decryptable for as long as they are held
// locally.
package identity
