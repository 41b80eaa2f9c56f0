package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message types for the audit trail.
const (
	MessageTypeNew     = "new"
	MessageTypeDirty   = "dirty"
	MessageTypeComment = "comment"
	MessageTypeEvent   = "event"
)

// Message is one append-only audit row recording a mutation on a User,
// Repo or AccessToken. Changes holds the per-field [old, new] diff
// computed at flush time; password hashes are redacted before persisting.
type Message struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelName string `gorm:"type:text;not null;index:idx_messages_model,priority:1"` // Entity kind, e.g. "user".
	ModelID   uint64 `gorm:"not null;index:idx_messages_model,priority:2"`           // Entity primary key.

	Date     time.Time `gorm:"not null;index"` // When the mutation happened.
	AuthorID *uint64   // Acting user, nil for system actions.

	Type string `gorm:"type:text;not null"`            // new, dirty, comment or event.
	Body string `gorm:"type:text;not null;default:''"` // Free-form text.

	Changes datatypes.JSON `gorm:"not null;default:'{}'"` // Field name -> [old, new].
}
