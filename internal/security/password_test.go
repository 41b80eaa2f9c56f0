package security

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordEmitsArgon2id(t *testing.T) {
	hash, errHash := HashPassword("changeme")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("unexpected format: %q", hash)
	}
	if !CheckPassword(hash, "changeme") {
		t.Errorf("valid password rejected")
	}
	if CheckPassword(hash, "changeme ") {
		t.Errorf("invalid password accepted")
	}
}

func TestCheckPasswordLegacySSHA(t *testing.T) {
	salt := []byte("salty")
	sum := sha1.Sum(append([]byte("secret123"), salt...))
	hash := "{SSHA}" + base64.StdEncoding.EncodeToString(append(sum[:], salt...))
	if !CheckPassword(hash, "secret123") {
		t.Errorf("valid SSHA password rejected")
	}
	if CheckPassword(hash, "secret124") {
		t.Errorf("invalid SSHA password accepted")
	}
}

func TestCheckPasswordUnknownFormat(t *testing.T) {
	if CheckPassword("plaintext", "plaintext") {
		t.Errorf("unknown format must never verify")
	}
}

func TestIsHashed(t *testing.T) {
	if IsHashed("hunter2") {
		t.Errorf("plaintext flagged as hashed")
	}
	if !IsHashed("{SSHA}AAAA") || !IsHashed("$argon2id$v=19$m=1,t=1,p=1$a$b") {
		t.Errorf("hashed formats not recognized")
	}
}

func TestPasswordPolicyBounds(t *testing.T) {
	policy := PasswordPolicy{MinLength: 8, MaxLength: 12, MinScore: 0}
	if errShort := policy.Validate("short"); !errors.Is(errShort, ErrPasswordTooShort) {
		t.Errorf("short: got %v", errShort)
	}
	if errLong := policy.Validate("waytoolongpassword"); !errors.Is(errLong, ErrPasswordTooLong) {
		t.Errorf("long: got %v", errLong)
	}
	if errOK := policy.Validate("justright1"); errOK != nil {
		t.Errorf("valid rejected: %v", errOK)
	}
}

func TestPasswordPolicyScore(t *testing.T) {
	policy := PasswordPolicy{MinLength: 4, MaxLength: 128, MinScore: 3}
	if errWeak := policy.Validate("aaaa"); !errors.Is(errWeak, ErrPasswordTooWeak) {
		t.Errorf("weak: got %v", errWeak)
	}
	if errStrong := policy.Validate("correct horse battery staple"); errStrong != nil {
		t.Errorf("strong rejected: %v", errStrong)
	}
}

func TestPasswordPolicyRejectsReuse(t *testing.T) {
	hash, _ := HashPassword("currentpassword")
	policy := DefaultPasswordPolicy()
	if errReuse := policy.ValidateChange(hash, "currentpassword"); !errors.Is(errReuse, ErrPasswordReused) {
		t.Errorf("reuse: got %v", errReuse)
	}
	if errNew := policy.ValidateChange(hash, "anotherpassword"); errNew != nil {
		t.Errorf("fresh password rejected: %v", errNew)
	}
}

func TestTokenSecretRoundTrip(t *testing.T) {
	secret, errGen := GenerateTokenSecret()
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	stored := HashTokenSecret(secret)
	if stored == secret {
		t.Errorf("secret stored unhashed")
	}
	if !VerifyTokenSecret(stored, secret) {
		t.Errorf("valid secret rejected")
	}
	if VerifyTokenSecret(stored, secret+"x") {
		t.Errorf("invalid secret accepted")
	}
}

func TestGenerateVerificationCode(t *testing.T) {
	for _, digits := range []int{6, 7, 8} {
		code, errGen := GenerateVerificationCode(digits)
		if errGen != nil {
			t.Fatalf("generate: %v", errGen)
		}
		if len(code) != digits {
			t.Errorf("digits=%d: got %q", digits, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Errorf("non-digit in code %q", code)
			}
		}
	}
	// Out-of-range requests clamp into [6, 8].
	code, _ := GenerateVerificationCode(3)
	if len(code) != 6 {
		t.Errorf("clamped code length: got %d", len(code))
	}
}
