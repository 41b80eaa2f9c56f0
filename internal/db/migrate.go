package db

import (
	"fmt"
	"sort"
	"strings"

	"github.com/backweb/backweb/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate creates or upgrades the schema and normalizes legacy rows.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAuto := conn.AutoMigrate(
		&models.User{},
		&models.Repo{},
		&models.AccessToken{},
		&models.SshKey{},
		&models.Session{},
		&models.Message{},
	); errAuto != nil {
		return fmt.Errorf("db: automigrate: %w", errAuto)
	}
	if errNormalize := normalizeRepopaths(conn); errNormalize != nil {
		return errNormalize
	}
	return nil
}

// normalizeRepopaths strips leading/trailing slashes from repository
// paths, deduplicates per owner, and drops rows whose path is a strict
// prefix of another row for the same owner. Runs on every boot; it is a
// no-op on a clean database.
func normalizeRepopaths(conn *gorm.DB) error {
	var repos []models.Repo
	if errFind := conn.Order("user_id, repopath").Find(&repos).Error; errFind != nil {
		return fmt.Errorf("db: list repos: %w", errFind)
	}

	byOwner := map[uint64][]models.Repo{}
	for _, repo := range repos {
		trimmed := strings.Trim(repo.Repopath, "/")
		if trimmed != repo.Repopath {
			if errUpdate := conn.Model(&models.Repo{}).Where("id = ?", repo.ID).
				Update("repopath", trimmed).Error; errUpdate != nil {
				return fmt.Errorf("db: normalize repopath: %w", errUpdate)
			}
			repo.Repopath = trimmed
		}
		byOwner[repo.UserID] = append(byOwner[repo.UserID], repo)
	}

	var dropIDs []uint64
	for _, owned := range byOwner {
		sort.Slice(owned, func(i, j int) bool { return owned[i].Repopath < owned[j].Repopath })
		seen := map[string]uint64{}
		for _, repo := range owned {
			if _, duplicate := seen[repo.Repopath]; duplicate {
				dropIDs = append(dropIDs, repo.ID)
				continue
			}
			seen[repo.Repopath] = repo.ID
		}
		for path, id := range seen {
			for other := range seen {
				if other != path && strings.HasPrefix(other, path+"/") {
					// A row nested under this one makes the prefix bogus.
					dropIDs = append(dropIDs, id)
					break
				}
			}
		}
	}
	if len(dropIDs) == 0 {
		return nil
	}
	log.Warnf("dropping %d duplicate or nested repository rows", len(dropIDs))
	if errDelete := conn.Delete(&models.Repo{}, dropIDs).Error; errDelete != nil {
		return fmt.Errorf("db: drop repos: %w", errDelete)
	}
	return nil
}
