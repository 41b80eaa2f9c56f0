package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session payload keys serialized into the Data map.
const (
	SessionKeyUsername           = "username"
	SessionKeyStartTime          = "start_time"
	SessionKeyPersistent         = "persistent"
	SessionKeyMfaVerifiedTime    = "mfa_verified_time"
	SessionKeyMfaVerifiedIPList  = "mfa_verified_ip_list"
	SessionKeyMfaCode            = "mfa_code"
	SessionKeyMfaCodeTime        = "mfa_code_time"
	SessionKeyMfaAttempts        = "mfa_attempts"
	SessionKeyPendingRedirectURL = "pending_redirect_url"
)

// Session is one server-side session row keyed by the opaque cookie id.
type Session struct {
	ID string `gorm:"type:text;primaryKey"` // Opaque session id.

	Username   string `gorm:"type:text;not null;default:'';index"` // Authenticated username, empty while anonymous.
	Persistent bool   `gorm:"not null;default:false"`              // "Remember me" flag.

	Data datatypes.JSON `gorm:"not null;default:'{}'"` // Serialized payload map.

	StartTime      time.Time `gorm:"not null"`       // Anchor for the absolute timeout.
	LastAccessTime time.Time `gorm:"not null"`       // Anchor for the sliding timeouts.
	ExpirationTime time.Time `gorm:"not null;index"` // Hard expiry used by the sweeper.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
