package security

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations matches the iteration count existing password rows were hashed with.
	DefaultIterations = 1000
	// KeyLen is the derived key length in bytes; the hex digest is twice as long.
	KeyLen  = 64
	saltLen = 16
)

var (
	// ErrMissingSalt is returned when hashing or verifying without a salt.
	ErrMissingSalt = errors.New("security: salt is required")
	// ErrMissingHash is returned by Verify when there is no stored hash to compare against.
	ErrMissingHash = errors.New("security: expected hash is required")
)

// Hasher derives salted password hashes with PBKDF2-HMAC-SHA512. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Iterations int
}

// NewHasher returns a Hasher using the given iteration count. Non-positive values fall
// back to DefaultIterations.
func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{Iterations: iterations}
}

// Hash returns the lowercase hex digest of password under salt. The same inputs always
// produce the same digest.
func (h *Hasher) Hash(password, salt string) (string, error) {
	if salt == "" {
		return "", ErrMissingSalt
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), h.iterations(), KeyLen, sha512.New)
	return hex.EncodeToString(key), nil
}

// GenerateSalt returns 16 random bytes, hex-encoded.
func (h *Hasher) GenerateSalt() (string, error) {
	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Verify recomputes the digest of password under salt and compares it with expectedHash
// in constant time. A wrong password yields (false, nil); only malformed input is an error.
func (h *Hasher) Verify(password, salt, expectedHash string) (bool, error) {
	if expectedHash == "" {
		return false, ErrMissingHash
	}
	got, err := h.Hash(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expectedHash)) == 1, nil
}

func (h *Hasher) iterations() int {
	if h == nil || h.Iterations <= 0 {
		return DefaultIterations
	}
	return h.Iterations
}
