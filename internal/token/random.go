package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/dtroode/pastedb/internal/model"
)

// DefaultBytes is the entropy of a session token.
const DefaultBytes = 32

// Random implements TokenGenerator with URL-safe base64 of crypto/rand bytes.
type Random struct {
	size int
}

// NewRandom creates a token generator producing tokens of size random bytes.
func NewRandom(size int) model.TokenGenerator {
	if size <= 0 {
		size = DefaultBytes
	}
	return &Random{size: size}
}

// Generate returns a fresh unpadded URL-safe token.
func (r *Random) Generate() (string, error) {
	buf := make([]byte, r.size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
