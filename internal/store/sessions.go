package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/backweb/backweb/internal/models"
	"gorm.io/gorm"
)

// GetSession loads one session row. Expired rows are treated as missing.
func (s *Store) GetSession(id string) (*models.Session, error) {
	var session models.Session
	errFind := s.DB.Where("id = ?", id).First(&session).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: session", ErrNotFound)
	}
	if errFind != nil {
		return nil, errFind
	}
	if !session.ExpirationTime.After(time.Now()) {
		return nil, fmt.Errorf("%w: session expired", ErrNotFound)
	}
	return &session, nil
}

// SaveSession upserts one session row.
func (s *Store) SaveSession(session *models.Session) error {
	if errSave := s.DB.Save(session).Error; errSave != nil {
		return fmt.Errorf("save session: %w", errSave)
	}
	return nil
}

// DeleteSession removes one session row. Missing rows are not an error.
func (s *Store) DeleteSession(id string) error {
	return s.DB.Where("id = ?", id).Delete(&models.Session{}).Error
}

// DeleteOtherSessions removes every session of the user except the one
// given, used after a password change.
func (s *Store) DeleteOtherSessions(username, keepID string) (int64, error) {
	result := s.DB.Where("username = ? AND id <> ?", username, keepID).Delete(&models.Session{})
	return result.RowsAffected, result.Error
}

// ListSessions returns the user's live sessions ordered by last access.
func (s *Store) ListSessions(username string) ([]models.Session, error) {
	var sessions []models.Session
	if errFind := s.DB.Where("username = ? AND expiration_time > ?", username, time.Now()).
		Order("last_access_time DESC").Find(&sessions).Error; errFind != nil {
		return nil, errFind
	}
	return sessions, nil
}

// SweepSessions deletes rows past their hard expiry.
func (s *Store) SweepSessions(now time.Time) (int64, error) {
	result := s.DB.Where("expiration_time <= ?", now).Delete(&models.Session{})
	return result.RowsAffected, result.Error
}
