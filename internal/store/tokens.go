package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateAccessToken mints a token for the user and returns the cleartext
// secret exactly once. Only the SHA-256 of the secret is stored.
func (s *Store) CreateAccessToken(user *models.User, name string, scopes []string, expiration *time.Time) (string, *models.AccessToken, error) {
	if name == "" {
		return "", nil, fmt.Errorf("%w: token name required", ErrValidation)
	}
	for _, scope := range scopes {
		if !security.IsValidScope(scope) {
			return "", nil, fmt.Errorf("%w: unknown scope %q", ErrValidation, scope)
		}
	}
	if len(scopes) == 0 {
		scopes = []string{security.ScopeAll}
	}
	var count int64
	if errCount := s.DB.Model(&models.AccessToken{}).
		Where("user_id = ? AND name = ?", user.ID, name).Count(&count).Error; errCount != nil {
		return "", nil, errCount
	}
	if count > 0 {
		return "", nil, fmt.Errorf("%w: token %s already exists", ErrIntegrity, name)
	}
	secret, errSecret := security.GenerateTokenSecret()
	if errSecret != nil {
		return "", nil, errSecret
	}
	encoded, errEncode := json.Marshal(scopes)
	if errEncode != nil {
		return "", nil, errEncode
	}
	token := models.AccessToken{
		UserID:         user.ID,
		Name:           name,
		HashSecret:     security.HashTokenSecret(secret),
		Scopes:         datatypes.JSON(encoded),
		ExpirationTime: expiration,
	}
	if errCreate := s.DB.Create(&token).Error; errCreate != nil {
		return "", nil, fmt.Errorf("create token: %w", errCreate)
	}
	authorID := user.ID
	s.recordMessage(s.DB, "user", user.ID, &authorID, models.MessageTypeEvent,
		fmt.Sprintf("access token %s created", name), nil)
	return secret, &token, nil
}

// ListAccessTokens returns a user's tokens ordered by name.
func (s *Store) ListAccessTokens(userID uint64) ([]models.AccessToken, error) {
	var tokens []models.AccessToken
	if errFind := s.DB.Where("user_id = ?", userID).Order("name").Find(&tokens).Error; errFind != nil {
		return nil, errFind
	}
	return tokens, nil
}

// DeleteAccessToken revokes one token by name.
func (s *Store) DeleteAccessToken(userID uint64, name string) error {
	result := s.DB.Where("user_id = ? AND name = ?", userID, name).Delete(&models.AccessToken{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: token %s", ErrNotFound, name)
	}
	return nil
}

// AuthenticateToken resolves a username/secret pair against stored
// tokens. Expired tokens never match; a successful match updates the
// token's access time.
func (s *Store) AuthenticateToken(username, secret string) (*models.User, *models.AccessToken, error) {
	user, errUser := s.GetUserByName(username)
	if errUser != nil {
		return nil, nil, errUser
	}
	if !user.CanAuthenticate() {
		return nil, nil, fmt.Errorf("%w: user %s is not active", ErrNotFound, username)
	}
	tokens, errList := s.ListAccessTokens(user.ID)
	if errList != nil {
		return nil, nil, errList
	}
	now := time.Now()
	for i := range tokens {
		token := &tokens[i]
		if token.IsExpired(now) {
			continue
		}
		if !security.VerifyTokenSecret(token.HashSecret, secret) {
			continue
		}
		token.AccessTime = &now
		if errSave := s.DB.Model(&models.AccessToken{}).Where("id = ?", token.ID).
			Update("access_time", now).Error; errSave != nil {
			log.WithError(errSave).Warn("update token access time")
		}
		return user, token, nil
	}
	return nil, nil, fmt.Errorf("%w: no matching token for %s", ErrNotFound, username)
}

// CleanupExpiredTokens deletes tokens past their expiration. Run daily.
func (s *Store) CleanupExpiredTokens(now time.Time) (int64, error) {
	result := s.DB.Where("expiration_time IS NOT NULL AND expiration_time <= ?", now).
		Delete(&models.AccessToken{})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
