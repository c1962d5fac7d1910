// Package cryptoprovider supplies the primitive set the envelope protocol is
// built on: key pair generation, key wrapping to a public key, and AEAD
// encryption of payloads.
//
// Protocol code depends only on the Provider interface. Two suites ship:
//
//   - x25519-xchacha20poly1305 (default): wrapping uses an ephemeral X25519
//     exchange with the recipient key, HKDF-SHA256 to derive a key-encryption
//     key, and XChaCha20-Poly1305 to seal the symmetric key. Payloads use
//     XChaCha20-Poly1305 with a 24-byte random nonce.
//
//   - mlkem768-aes256gcm: wrapping encapsulates to an ML-KEM-768 public key,
//     derives the key-encryption key with HKDF-SHA512, and seals with
//     AES-256-GCM. Payloads use AES-256-GCM with a 12-byte random nonce.
//
// Wrapped key layout:
//
//	x25519:   ephemeral_public(32) || nonce(24) || sealed_key+tag
//	mlkem768: kem_ciphertext(1088) || nonce(12) || sealed_key+tag
//
// Failures are reported with the sentinels from internal/errors:
// ErrUnwrapFailed when a wrapped key cannot be opened and
// ErrTamperOrCorruption when payload authentication fails.
package cryptoprovider
