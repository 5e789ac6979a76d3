package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters. Changing them invalidates stored hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// HashAPIKey returns "<salt>$<hash>", both base64, for apiKey.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	enc := base64.StdEncoding
	return enc.EncodeToString(salt) + "$" + enc.EncodeToString(deriveKey(apiKey, salt)), nil
}

// KeyVerifier checks presented API keys against one stored hash.
type KeyVerifier struct {
	salt []byte
	hash []byte
}

// NewKeyVerifier parses a hash produced by HashAPIKey.
func NewKeyVerifier(encoded string) (*KeyVerifier, error) {
	saltPart, hashPart, ok := strings.Cut(strings.TrimSpace(encoded), "$")
	if !ok {
		return nil, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return nil, fmt.Errorf("auth: decode salt: %w", err)
	}
	hash, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil {
		return nil, fmt.Errorf("auth: decode hash: %w", err)
	}
	if len(hash) != argonKeyLen {
		return nil, fmt.Errorf("auth: hash is %d bytes, want %d", len(hash), argonKeyLen)
	}
	return &KeyVerifier{salt: salt, hash: hash}, nil
}

// Verify reports whether apiKey matches. An empty key still pays the full
// derivation cost.
func (v *KeyVerifier) Verify(apiKey string) bool {
	return subtle.ConstantTimeCompare(v.hash, deriveKey(apiKey, v.salt)) == 1
}
