package utils

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// GenerateVisitorID returns a fresh random visitor identifier.
func GenerateVisitorID() string {
	return uuid.NewString()
}

// GenerateSecret returns n random bytes, base64 encoded. Used when no
// identity secret is configured.
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
