package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/backweb/backweb/internal/db"
	"github.com/backweb/backweb/internal/models"
	"gorm.io/gorm"
)

// usernamePattern constrains new usernames.
var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.\-]+$`)

// GetUserByName looks a user up case-insensitively.
func (s *Store) GetUserByName(username string) (*models.User, error) {
	var user models.User
	errFind := s.DB.Where(db.LowerEqualExpr("username"), strings.TrimSpace(username)).First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	if errFind != nil {
		return nil, errFind
	}
	return &user, nil
}

// GetUserByEmail looks a user up by email. Empty emails never match.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrNotFound)
	}
	var user models.User
	errFind := s.DB.Where(db.LowerEqualExpr("email"), email).First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: email %s", ErrNotFound, email)
	}
	if errFind != nil {
		return nil, errFind
	}
	return &user, nil
}

// GetUserByID fetches one user row.
func (s *Store) GetUserByID(id uint64) (*models.User, error) {
	var user models.User
	errFind := s.DB.First(&user, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user id %d", ErrNotFound, id)
	}
	if errFind != nil {
		return nil, errFind
	}
	return &user, nil
}

// ListUsers returns every account ordered by username.
func (s *Store) ListUsers() ([]models.User, error) {
	var users []models.User
	if errFind := s.DB.Order("username").Find(&users).Error; errFind != nil {
		return nil, errFind
	}
	return users, nil
}

// CreateUser validates and inserts a new account, recording an audit row.
func (s *Store) CreateUser(user *models.User, authorID *uint64) error {
	user.Username = strings.TrimSpace(user.Username)
	if !usernamePattern.MatchString(user.Username) {
		return fmt.Errorf("%w: invalid username %q", ErrValidation, user.Username)
	}
	if _, errExisting := s.GetUserByName(user.Username); errExisting == nil {
		return fmt.Errorf("%w: username %s already exists", ErrIntegrity, user.Username)
	}
	if s.LoginWithEmail && user.Email != "" {
		if _, errExisting := s.GetUserByEmail(user.Email); errExisting == nil {
			return fmt.Errorf("%w: email %s already exists", ErrIntegrity, user.Email)
		}
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}
	if errCreate := s.DB.Create(user).Error; errCreate != nil {
		return fmt.Errorf("create user: %w", errCreate)
	}
	s.recordMessage(s.DB, "user", user.ID, authorID, models.MessageTypeNew, "", DiffFields(&models.User{}, user))
	return nil
}

// UpdateUser persists changes to an account, recording the field diff.
// The admin user cannot be disabled or flagged for deletion.
func (s *Store) UpdateUser(user *models.User, authorID *uint64) error {
	previous, errPrevious := s.GetUserByID(user.ID)
	if errPrevious != nil {
		return errPrevious
	}
	if s.isAdminUser(previous.Username) && user.Status != models.UserStatusActive {
		return fmt.Errorf("%w: %s cannot be disabled", ErrProtected, previous.Username)
	}
	if s.LoginWithEmail && user.Email != "" && !strings.EqualFold(user.Email, previous.Email) {
		if other, errExisting := s.GetUserByEmail(user.Email); errExisting == nil && other.ID != user.ID {
			return fmt.Errorf("%w: email %s already exists", ErrIntegrity, user.Email)
		}
	}
	if errSave := s.DB.Save(user).Error; errSave != nil {
		return fmt.Errorf("update user: %w", errSave)
	}
	if changes := DiffFields(previous, user); len(changes) > 0 {
		s.recordMessage(s.DB, "user", user.ID, authorID, models.MessageTypeDirty, "", changes)
	}
	return nil
}

// FlagUserDeleting marks an account for asynchronous removal. A deleting
// user can no longer authenticate.
func (s *Store) FlagUserDeleting(id uint64, authorID *uint64) error {
	user, errGet := s.GetUserByID(id)
	if errGet != nil {
		return errGet
	}
	if s.isAdminUser(user.Username) {
		return fmt.Errorf("%w: %s cannot be deleted", ErrProtected, user.Username)
	}
	previous := *user
	user.Status = models.UserStatusDeleting
	if errSave := s.DB.Save(user).Error; errSave != nil {
		return errSave
	}
	s.recordMessage(s.DB, "user", user.ID, authorID, models.MessageTypeDirty, "", DiffFields(&previous, user))
	return nil
}

// DeleteUser removes an account and everything it owns. The admin user is
// protected.
func (s *Store) DeleteUser(id uint64) error {
	user, errGet := s.GetUserByID(id)
	if errGet != nil {
		return errGet
	}
	if s.isAdminUser(user.Username) {
		return fmt.Errorf("%w: %s cannot be deleted", ErrProtected, user.Username)
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&models.Repo{}, &models.AccessToken{}, &models.SshKey{}} {
			if errDelete := tx.Where("user_id = ?", id).Delete(model).Error; errDelete != nil {
				return errDelete
			}
		}
		if errDelete := tx.Where("username = ?", user.Username).Delete(&models.Session{}).Error; errDelete != nil {
			return errDelete
		}
		if errDelete := tx.Delete(&models.User{}, id).Error; errDelete != nil {
			return errDelete
		}
		s.purgeMessages(tx, "user", id)
		return nil
	})
}

func (s *Store) isAdminUser(username string) bool {
	return strings.EqualFold(username, s.AdminUser)
}
