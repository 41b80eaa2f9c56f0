package security

import (
	"errors"
	"fmt"

	"github.com/nbutton23/zxcvbn-go"
)

// Password policy errors surfaced to forms as validation failures.
var (
	// ErrPasswordTooShort indicates the password is below the minimum.
	ErrPasswordTooShort = errors.New("security: password too short")
	// ErrPasswordTooLong indicates the password is above the maximum.
	ErrPasswordTooLong = errors.New("security: password too long")
	// ErrPasswordTooWeak indicates the zxcvbn score is below the minimum.
	ErrPasswordTooWeak = errors.New("security: password too weak")
	// ErrPasswordReused indicates the new password equals the current one.
	ErrPasswordReused = errors.New("security: new password must differ from the current one")
)

// PasswordPolicy validates new passwords: length bounds and a minimum
// zxcvbn strength score on the library's 0-4 scale.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
	MinScore  int
}

// DefaultPasswordPolicy returns the deployment defaults.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxLength: 128, MinScore: 0}
}

// Validate checks a candidate password against the policy. userInputs
// (username, email) lower the zxcvbn score when the password derives from
// them.
func (p PasswordPolicy) Validate(password string, userInputs ...string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrPasswordTooShort, p.MinLength)
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return fmt.Errorf("%w: maximum %d characters", ErrPasswordTooLong, p.MaxLength)
	}
	if p.MinScore > 0 {
		strength := zxcvbn.PasswordStrength(password, userInputs)
		if strength.Score < p.MinScore {
			return fmt.Errorf("%w: score %d below required %d", ErrPasswordTooWeak, strength.Score, p.MinScore)
		}
	}
	return nil
}

// ValidateChange applies the policy and rejects re-use of the current
// password.
func (p PasswordPolicy) ValidateChange(currentHash, password string, userInputs ...string) error {
	if errValidate := p.Validate(password, userInputs...); errValidate != nil {
		return errValidate
	}
	if currentHash != "" && CheckPassword(currentHash, password) {
		return ErrPasswordReused
	}
	return nil
}
