package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AccessToken represents an API token issued to a user. The secret is
// stored hashed; expired tokens are ignored by authentication and
// garbage-collected daily.
type AccessToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index;uniqueIndex:idx_tokens_user_name,priority:1"` // Owning user.
	User   *User  `gorm:"foreignKey:UserID"`                                          // Owner record.

	Name       string `gorm:"type:text;not null;uniqueIndex:idx_tokens_user_name,priority:2"` // Display name, unique per user.
	HashSecret string `gorm:"type:text;not null"`                                             // SHA-256 of the secret.

	Scopes datatypes.JSON `gorm:"not null;default:'[]'"` // Scope names in JSON.

	ExpirationTime *time.Time // Optional expiry; nil never expires.
	CreationTime   time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
	AccessTime     *time.Time // Last successful authentication time.
}

// IsExpired reports whether the token is past its expiration.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return t.ExpirationTime != nil && !t.ExpirationTime.After(now)
}

// ScopeList decodes the JSON scope set.
func (t *AccessToken) ScopeList() []string {
	var scopes []string
	if errDecode := json.Unmarshal(t.Scopes, &scopes); errDecode != nil {
		return nil
	}
	return scopes
}

// HasScope reports whether the token carries the named scope or "all".
func (t *AccessToken) HasScope(name string) bool {
	for _, scope := range t.ScopeList() {
		if scope == "all" || scope == name {
			return true
		}
	}
	return false
}
