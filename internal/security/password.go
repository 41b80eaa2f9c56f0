package security

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters fixed at deployment time. Hashes emitted on write
// always use these; verification honors the parameters stored in the hash.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ErrUnknownHashFormat indicates a stored hash in no recognized format.
var ErrUnknownHashFormat = errors.New("security: unknown password hash format")

// HashPassword hashes a plaintext password with Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, errRead := io.ReadFull(rand.Reader, salt); errRead != nil {
		return "", fmt.Errorf("security: generate salt: %w", errRead)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// CheckPassword verifies a plaintext password against a stored hash. Two
// formats are recognized on read: Argon2id and legacy salted SHA-1
// ("{SSHA}..."). Comparison is constant-time.
func CheckPassword(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$argon2"):
		return checkArgon2(hash, password)
	case strings.HasPrefix(hash, "{SSHA}"):
		return checkSSHA(hash, password)
	default:
		return false
	}
}

func checkArgon2(hash, password string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, errScan := fmt.Sscanf(parts[2], "v=%d", &version); errScan != nil {
		return false
	}
	var memory, time uint32
	var threads uint8
	if _, errScan := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); errScan != nil {
		return false
	}
	salt, errSalt := base64.RawStdEncoding.DecodeString(parts[4])
	expected, errKey := base64.RawStdEncoding.DecodeString(parts[5])
	if errSalt != nil || errKey != nil {
		return false
	}
	key := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}

// checkSSHA verifies a legacy LDAP-style salted SHA-1 digest:
// base64(sha1(password + salt) + salt).
func checkSSHA(hash, password string) bool {
	raw, errDecode := base64.StdEncoding.DecodeString(strings.TrimPrefix(hash, "{SSHA}"))
	if errDecode != nil || len(raw) < sha1.Size {
		return false
	}
	digest, salt := raw[:sha1.Size], raw[sha1.Size:]
	sum := sha1.Sum(append([]byte(password), salt...))
	return subtle.ConstantTimeCompare(sum[:], digest) == 1
}

// IsHashed reports whether the value already is a recognized stored hash.
// Configuration may seed the admin password either hashed or plaintext.
func IsHashed(value string) bool {
	return strings.HasPrefix(value, "$argon2") || strings.HasPrefix(value, "{SSHA}")
}
