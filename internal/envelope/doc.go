// Package envelope implements hybrid encryption for a single recipient.
//
// Every call generates a fresh symmetric key and nonce, encrypts the payload
// with the suite's AEAD and wraps the key to the recipient's public identity
// key. The envelope records which identity key version it was wrapped to, so
// the recipient can select the matching private key after rotations.
//
// The suite, payload kind and key version are bound as associated data.
// Relabeling any of them makes decryption fail with ErrTamperOrCorruption.
package envelope
