package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored passphrase hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed passphrase hash")

// PassphraseParams are the argon2id cost parameters. Memory is in KiB.
type PassphraseParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultPassphraseParams returns the production cost parameters.
func DefaultPassphraseParams() PassphraseParams {
	return PassphraseParams{
		Time:    10,
		Memory:  64 * 1024,
		Threads: 2,
		KeyLen:  48,
		SaltLen: 8,
	}
}

// HashPassphrase hashes plaintext under a fresh random salt and returns the
// encoded form "$argon2id$v=19$m=..,t=..,p=..$salt$hash".
func HashPassphrase(plaintext string, p PassphraseParams) (string, error) {
	salt, err := RandomToken(p.SaltLen)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), []byte(salt), p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		salt, base64.RawURLEncoding.EncodeToString(key)), nil
}

// VerifyPassphrase recomputes the hash of plaintext with the parameters and
// salt recorded in encoded and compares in constant time.
func VerifyPassphrase(plaintext, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrMalformedHash
	}

	var p PassphraseParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return false, ErrMalformedHash
	}

	salt := parts[4]
	want, err := base64.RawURLEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}

	got := argon2.IDKey([]byte(plaintext), []byte(salt), p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
