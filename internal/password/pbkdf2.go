// Package password derives and verifies salted password hashes.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dtroode/pastedb/internal/model"
)

const (
	// DefaultIterations is the PBKDF2 work factor for new hashes.
	DefaultIterations = 100000
	// DefaultSaltBytes is the amount of randomness in a fresh salt.
	DefaultSaltBytes = 16

	keyLen = sha256.Size
)

var _ model.PasswordHasher = (*PBKDF2)(nil)

// PBKDF2 hashes passwords with PBKDF2-HMAC-SHA256.
//
// The salt is stored as a hex string and its UTF-8 bytes feed the KDF, so the
// stored pair (hash, salt) is plain text and portable.
type PBKDF2 struct {
	iterations int
	saltBytes  int
}

// NewPBKDF2 creates a hasher.
//
// Parameters:
//   - iterations: PBKDF2 iteration count; non-positive values use DefaultIterations
//   - saltBytes: random bytes per salt; non-positive values use DefaultSaltBytes
func NewPBKDF2(iterations, saltBytes int) *PBKDF2 {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if saltBytes <= 0 {
		saltBytes = DefaultSaltBytes
	}
	return &PBKDF2{iterations: iterations, saltBytes: saltBytes}
}

// Hash derives a hash for password under a freshly generated salt.
//
// Returns the hex-encoded hash and the hex-encoded salt.
func (p *PBKDF2) Hash(password string) (string, string, error) {
	raw := make([]byte, p.saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	return p.derive(password, salt), salt, nil
}

// Verify reports whether password matches hash under salt.
// The comparison runs in constant time.
func (p *PBKDF2) Verify(password, hash, salt string) bool {
	got := p.derive(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

func (p *PBKDF2) derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), p.iterations, keyLen, sha256.New)
	return hex.EncodeToString(key)
}
