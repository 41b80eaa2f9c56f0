package store

import (
	"errors"

	"gorm.io/gorm"
)

// Store groups database access for users, repositories, tokens, keys and
// sessions. One Store is shared process-wide; gorm sessions are
// per-request.
type Store struct {
	DB *gorm.DB

	// AdminUser is the username that can never be deleted or disabled.
	AdminUser string
	// LoginWithEmail enables email lookup at login and the email
	// uniqueness constraint.
	LoginWithEmail bool
	// MaxDepth bounds the repository discovery walk.
	MaxDepth int
}

// Store-level errors mapped to the HTTP taxonomy by the web layer.
var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrIntegrity indicates a uniqueness or constraint violation.
	ErrIntegrity = errors.New("store: constraint violation")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("store: invalid input")
	// ErrProtected indicates an operation forbidden on the admin user.
	ErrProtected = errors.New("store: operation not permitted on the admin user")
)

// New constructs a Store.
func New(conn *gorm.DB, adminUser string, loginWithEmail bool, maxDepth int) *Store {
	if adminUser == "" {
		adminUser = "admin"
	}
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Store{DB: conn, AdminUser: adminUser, LoginWithEmail: loginWithEmail, MaxDepth: maxDepth}
}

// WithDB returns a Store bound to another connection, typically a
// transaction handle.
func (s *Store) WithDB(conn *gorm.DB) *Store {
	derived := *s
	derived.DB = conn
	return &derived
}
