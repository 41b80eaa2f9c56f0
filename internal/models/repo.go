package models

import "time"

// Repository statuses. The first four are derived from disk; "deleting" is
// set in the database while the purge job runs.
const (
	RepoStatusOK          = "ok"
	RepoStatusInProgress  = "in_progress"
	RepoStatusInterrupted = "interrupted"
	RepoStatusFailed      = "failed"
	RepoStatusDeleting    = "deleting"
)

// KeepForever disables retention trimming for a repository.
const KeepForever = -1

// Repo represents one rdiff-backup repository row owned by a user.
type Repo struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index;uniqueIndex:idx_repos_owner_path,priority:1"` // Owning user.
	User   *User  `gorm:"foreignKey:UserID"`                                          // Owner record.

	Repopath string `gorm:"type:text;not null;uniqueIndex:idx_repos_owner_path,priority:2"` // Path relative to the owner's user_root, no leading/trailing slash.

	MaxageDays    int    `gorm:"not null;default:0"`  // Staleness alert threshold in days, 0 disables.
	Keepdays      int    `gorm:"not null;default:-1"` // Retention in days, -1 keeps forever.
	IgnoreWeekday uint8  `gorm:"not null;default:0"`  // Bitset over Mon..Sun of days without expected backups.
	Encoding      string `gorm:"type:text;not null;default:''"` // Filename codec, empty means the OS default.

	Status string `gorm:"type:text;not null;default:'ok'"` // ok, in_progress, interrupted, failed or deleting.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// WeekdayIgnored reports whether the given weekday (0=Monday) is excluded
// from the staleness check.
func (r *Repo) WeekdayIgnored(weekday int) bool {
	if weekday < 0 || weekday > 6 {
		return false
	}
	return r.IgnoreWeekday&(1<<uint(weekday)) != 0
}
