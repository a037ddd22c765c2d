package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// DefaultSecretLength is the number of random bytes in a generated secret.
const DefaultSecretLength = 32

// GenerateSecret returns length cryptographically random bytes, hex-encoded.
// A non-positive length falls back to DefaultSecretLength.
func GenerateSecret(length int) string {
	if length <= 0 {
		length = DefaultSecretLength
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic("hookrelay: failed to generate random secret: " + err.Error())
	}
	return hex.EncodeToString(b)
}
