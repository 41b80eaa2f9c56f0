package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/rdiff"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GetRepo fetches one repository row by owner and exact path.
func (s *Store) GetRepo(ownerID uint64, repopath string) (*models.Repo, error) {
	repopath = strings.Trim(repopath, "/")
	var repo models.Repo
	errFind := s.DB.Where("user_id = ? AND repopath = ?", ownerID, repopath).First(&repo).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: repo %s", ErrNotFound, repopath)
	}
	if errFind != nil {
		return nil, errFind
	}
	return &repo, nil
}

// GetRepoByID fetches one repository row.
func (s *Store) GetRepoByID(id uint64) (*models.Repo, error) {
	var repo models.Repo
	errFind := s.DB.First(&repo, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: repo id %d", ErrNotFound, id)
	}
	if errFind != nil {
		return nil, errFind
	}
	return &repo, nil
}

// ListRepos returns the repositories of one owner ordered by path.
func (s *Store) ListRepos(ownerID uint64) ([]models.Repo, error) {
	var repos []models.Repo
	if errFind := s.DB.Where("user_id = ?", ownerID).Order("repopath").Find(&repos).Error; errFind != nil {
		return nil, errFind
	}
	return repos, nil
}

// UpdateRepo persists repository settings, recording the field diff.
func (s *Store) UpdateRepo(repo *models.Repo, authorID *uint64) error {
	previous, errPrevious := s.GetRepoByID(repo.ID)
	if errPrevious != nil {
		return errPrevious
	}
	if errSave := s.DB.Save(repo).Error; errSave != nil {
		return fmt.Errorf("update repo: %w", errSave)
	}
	if changes := DiffFields(previous, repo); len(changes) > 0 {
		s.recordMessage(s.DB, "repo", repo.ID, authorID, models.MessageTypeDirty, "", changes)
	}
	return nil
}

// FlagRepoDeleting marks a repository for asynchronous removal.
func (s *Store) FlagRepoDeleting(id uint64, authorID *uint64) error {
	repo, errGet := s.GetRepoByID(id)
	if errGet != nil {
		return errGet
	}
	previous := *repo
	repo.Status = models.RepoStatusDeleting
	if errSave := s.DB.Save(repo).Error; errSave != nil {
		return errSave
	}
	s.recordMessage(s.DB, "repo", repo.ID, authorID, models.MessageTypeDirty, "", DiffFields(&previous, repo))
	return nil
}

// DeleteRepo removes one repository row and its audit trail.
func (s *Store) DeleteRepo(id uint64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Delete(&models.Repo{}, id).Error; errDelete != nil {
			return errDelete
		}
		s.purgeMessages(tx, "repo", id)
		return nil
	})
}

// RefreshRepos walks the user's root breadth-first up to MaxDepth and
// records every directory holding an rdiff-backup-data child as a
// repository. With deleteMissing, rows no longer present on disk are
// removed.
func (s *Store) RefreshRepos(user *models.User, deleteMissing bool) error {
	if user.UserRoot == "" {
		return nil
	}
	discovered := map[string]bool{}
	type queued struct {
		abs   string
		depth int
	}
	queue := []queued{{abs: user.UserRoot}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth > s.MaxDepth {
			continue
		}
		entries, errRead := os.ReadDir(current.abs)
		if errRead != nil {
			continue
		}
		isRepo := false
		for _, entry := range entries {
			if entry.IsDir() && entry.Name() == rdiff.DataDirName {
				isRepo = true
				break
			}
		}
		if isRepo {
			rel, errRel := filepath.Rel(user.UserRoot, current.abs)
			if errRel != nil {
				continue
			}
			if rel == "." {
				rel = ""
			}
			discovered[strings.Trim(rel, "/")] = true
			// A repository never nests another one.
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
				continue
			}
			queue = append(queue, queued{abs: filepath.Join(current.abs, entry.Name()), depth: current.depth + 1})
		}
	}

	existing, errList := s.ListRepos(user.ID)
	if errList != nil {
		return errList
	}
	known := map[string]models.Repo{}
	for _, repo := range existing {
		known[repo.Repopath] = repo
	}
	for path := range discovered {
		if _, ok := known[path]; ok {
			continue
		}
		repo := models.Repo{UserID: user.ID, Repopath: path, Keepdays: models.KeepForever}
		if errCreate := s.DB.Create(&repo).Error; errCreate != nil {
			log.WithError(errCreate).Warnf("insert discovered repo %s for %s", path, user.Username)
			continue
		}
		s.recordMessage(s.DB, "repo", repo.ID, nil, models.MessageTypeNew, "discovered on disk", nil)
	}
	if deleteMissing {
		for path, repo := range known {
			if discovered[path] {
				continue
			}
			if errDelete := s.DeleteRepo(repo.ID); errDelete != nil {
				log.WithError(errDelete).Warnf("drop vanished repo %s for %s", path, user.Username)
			}
		}
	}
	return nil
}
