package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// SessionIDBytes is the entropy of a session id (64 bits).
	SessionIDBytes = 8
	// SecretBytes is the entropy of a session key or api key (192 bits).
	SecretBytes = 24
)

// RandomToken returns n cryptographically random bytes encoded as unpadded
// URL-safe base64, so the value is safe inside cookies and headers.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest stored in place of a secret.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Equal compares two secrets in constant time. Both sides are hashed first so
// the comparison does not leak the stored secret's length either.
func Equal(presented, stored string) bool {
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(stored))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// MatchesHash reports whether presented hashes to storedHash, in constant time.
func MatchesHash(presented, storedHash string) bool {
	digest := HashToken(presented)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}

// Mask shortens an identifier for logs.
func Mask(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:4] + "…"
}
