// Package keyhash generates API key secrets and derives their lookup hash
// and display prefix. Every function is pure apart from Generate's use of
// crypto/rand.
package keyhash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// Prefix marks every secret issued by keygate so leaked keys are easy
	// to grep for.
	Prefix = "kg_"

	randomBytes = 32
	secretLen   = len(Prefix) + randomBytes*2
	displayLen  = len(Prefix) + 8
)

// Generate returns a new secret: Prefix followed by 64 lowercase hex
// characters (256 bits of randomness).
func Generate() (string, error) {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}

// Hash returns the hex-encoded SHA-256 of secret. It is the only form of
// the secret that is persisted.
func Hash(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// DisplayPrefix returns the non-secret leading fragment shown in listings.
func DisplayPrefix(secret string) string {
	if len(secret) <= displayLen {
		return secret
	}
	return secret[:displayLen]
}

// WellFormed reports whether secret has the shape Generate produces.
// Credentials failing this check can be rejected without a store lookup.
func WellFormed(secret string) bool {
	if len(secret) != secretLen || secret[:len(Prefix)] != Prefix {
		return false
	}
	for i := len(Prefix); i < len(secret); i++ {
		c := secret[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
