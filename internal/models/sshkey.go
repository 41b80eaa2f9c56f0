package models

import "time"

// SshKey represents one public key registered by a user. Fingerprints are
// globally unique so a key cannot be shared across accounts.
type SshKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user.
	User   *User  `gorm:"foreignKey:UserID"` // Owner record.

	Fingerprint string `gorm:"type:text;not null;uniqueIndex"` // MD5 fingerprint of the key.
	Key         string `gorm:"type:text;not null"`             // Raw public key text.
	Comment     string `gorm:"type:text;not null;default:''"`  // Human comment.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
