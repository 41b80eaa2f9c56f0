package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

// Token scopes controlling which API endpoints a token may invoke.
const (
	ScopeAll             = "all"
	ScopeReadUser        = "read_user"
	ScopeWriteUser       = "write_user"
	ScopeAdminReadUsers  = "admin_read_users"
	ScopeAdminWriteUsers = "admin_write_users"
)

// ValidScopes enumerates the recognized token scopes.
var ValidScopes = []string{ScopeAll, ScopeReadUser, ScopeWriteUser, ScopeAdminReadUsers, ScopeAdminWriteUsers}

// IsValidScope reports whether the name is a recognized scope.
func IsValidScope(name string) bool {
	for _, scope := range ValidScopes {
		if scope == name {
			return true
		}
	}
	return false
}

// GenerateTokenSecret creates a new random access-token secret. Only the
// hash is stored; the plaintext is shown to the user once.
func GenerateTokenSecret() (string, error) {
	secret := make([]byte, 32)
	if _, errRead := io.ReadFull(rand.Reader, secret); errRead != nil {
		return "", fmt.Errorf("security: generate token: %w", errRead)
	}
	return hex.EncodeToString(secret), nil
}

// HashTokenSecret hashes a token secret for storage.
func HashTokenSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifyTokenSecret compares a presented secret with a stored hash in
// constant time.
func VerifyTokenSecret(storedHash, secret string) bool {
	presented := HashTokenSecret(secret)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(presented)) == 1
}

// GenerateSessionID returns a new opaque session identifier.
func GenerateSessionID() (string, error) {
	raw := make([]byte, 24)
	if _, errRead := io.ReadFull(rand.Reader, raw); errRead != nil {
		return "", fmt.Errorf("security: generate session id: %w", errRead)
	}
	return hex.EncodeToString(raw), nil
}

// GenerateVerificationCode returns a uniformly random numeric one-time
// code of the requested length (6 to 8 digits).
func GenerateVerificationCode(digits int) (string, error) {
	if digits < 6 {
		digits = 6
	}
	if digits > 8 {
		digits = 8
	}
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	value, errRand := rand.Int(rand.Reader, max)
	if errRand != nil {
		return "", fmt.Errorf("security: generate code: %w", errRand)
	}
	return fmt.Sprintf("%0*d", digits, value), nil
}
