package cryptoprovider

import (
	"crypto/sha256"

	"github.com/mr-tron/base58/base58"
)

// Fingerprint returns a short, human-comparable identifier for a public key.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base58.Encode(sum[:16])
}
