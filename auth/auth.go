// Package auth derives and verifies password hashes and issues session tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations = 100000

	saltBytes  = 16
	keyBytes   = 32
	tokenBytes = 32
)

// Gateway hashes with PBKDF2-HMAC-SHA256. The zero value uses DefaultIterations.
type Gateway struct {
	Iterations int
}

func New() *Gateway {
	return &Gateway{Iterations: DefaultIterations}
}

func (g *Gateway) iterations() int {
	if g.Iterations <= 0 {
		return DefaultIterations
	}
	return g.Iterations
}

// HashAndSalt returns a fresh hex salt and the hex hash of password under it.
func (g *Gateway) HashAndSalt(password string) (salt, hash string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}
	salt = hex.EncodeToString(raw)
	return salt, g.derive(password, salt), nil
}

// Verify reports whether candidate hashes to hash under salt.
func (g *Gateway) Verify(hash, salt, candidate string) bool {
	got := g.derive(candidate, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

func (g *Gateway) derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), g.iterations(), keyBytes, sha256.New)
	return hex.EncodeToString(key)
}

// NewToken returns an opaque URL-safe session token.
func (g *Gateway) NewToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
