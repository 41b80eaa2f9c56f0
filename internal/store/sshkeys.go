package store

import (
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"golang.org/x/crypto/ssh"
)

// FingerprintKey parses an authorized_keys line and returns its MD5
// fingerprint as colon-separated hex, the way ssh-keygen -l -E md5
// prints it.
func FingerprintKey(publicKey string) (string, string, error) {
	parsed, comment, _, _, errParse := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(publicKey)))
	if errParse != nil {
		return "", "", fmt.Errorf("%w: invalid public key: %v", ErrValidation, errParse)
	}
	sum := md5.Sum(parsed.Marshal())
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":"), comment, nil
}

// AddSshKey registers a public key for the user. Fingerprints are unique
// across all accounts.
func (s *Store) AddSshKey(user *models.User, publicKey, comment string) (*models.SshKey, error) {
	fingerprint, parsedComment, errParse := FingerprintKey(publicKey)
	if errParse != nil {
		return nil, errParse
	}
	if comment == "" {
		comment = parsedComment
	}
	var count int64
	if errCount := s.DB.Model(&models.SshKey{}).
		Where("fingerprint = ?", fingerprint).Count(&count).Error; errCount != nil {
		return nil, errCount
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: key %s is already registered", ErrIntegrity, fingerprint)
	}
	key := models.SshKey{
		UserID:      user.ID,
		Fingerprint: fingerprint,
		Key:         strings.TrimSpace(publicKey),
		Comment:     comment,
	}
	if errCreate := s.DB.Create(&key).Error; errCreate != nil {
		return nil, fmt.Errorf("create ssh key: %w", errCreate)
	}
	authorID := user.ID
	s.recordMessage(s.DB, "user", user.ID, &authorID, models.MessageTypeEvent,
		fmt.Sprintf("ssh key %s added", fingerprint), nil)
	return &key, nil
}

// ListSshKeys returns a user's keys ordered by fingerprint.
func (s *Store) ListSshKeys(userID uint64) ([]models.SshKey, error) {
	var keys []models.SshKey
	if errFind := s.DB.Where("user_id = ?", userID).Order("fingerprint").Find(&keys).Error; errFind != nil {
		return nil, errFind
	}
	return keys, nil
}

// DeleteSshKey removes one key by fingerprint.
func (s *Store) DeleteSshKey(userID uint64, fingerprint string) error {
	result := s.DB.Where("user_id = ? AND fingerprint = ?", userID, fingerprint).Delete(&models.SshKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: key %s", ErrNotFound, fingerprint)
	}
	return nil
}
