package models

import "time"

// User roles. Lower codes carry more privileges.
const (
	RoleAdmin      = 0
	RoleMaintainer = 5
	RoleUser       = 10
)

// User statuses.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
	UserStatusDeleting = "deleting"
)

// User represents an account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name, compared case-insensitively.
	Fullname string `gorm:"type:text;not null;default:''"`  // Display name.
	Email    string `gorm:"type:text;not null;default:''"`  // Contact address; unique when login_with_email is on.

	HashPassword string `gorm:"column:hash_password;type:text;not null;default:''"` // Opaque password hash (argon2id or legacy SSHA).

	Role     int    `gorm:"not null;default:10"`              // Role code: 0 admin, 5 maintainer, 10 user.
	UserRoot string `gorm:"type:text;not null;default:''"`    // Absolute filesystem root for this user's repositories.
	Status   string `gorm:"type:text;not null;default:'active'"` // active, disabled or deleting.

	MfaEnabled bool   `gorm:"column:mfa_enabled;not null;default:false"` // Whether email MFA is required.
	Lang       string `gorm:"type:text;not null;default:''"`             // Preferred locale.

	ReportIntervalDays int        `gorm:"not null;default:0"` // Email report cadence: 0, 1, 7 or 30 days.
	LastReportSent     *time.Time // When the last report email went out.

	DiskQuota int64 `gorm:"not null;default:0"` // Quota in bytes, 0 means unlimited.

	Repos        []Repo        `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Owned repositories.
	AccessTokens []AccessToken `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Owned tokens.
	SshKeys      []SshKey      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Owned public keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool { return u.Role <= RoleAdmin }

// IsMaintainer reports whether the user carries at least maintainer rights.
func (u *User) IsMaintainer() bool { return u.Role <= RoleMaintainer }

// CanAuthenticate reports whether the account may sign in at all.
func (u *User) CanAuthenticate() bool { return u.Status == UserStatusActive }
