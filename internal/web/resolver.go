package web

import (
	"errors"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/rdiff"
	"github.com/backweb/backweb/internal/store"
	"github.com/gin-gonic/gin"
)

// resolved carries the outcome of one path resolution: the owning user,
// the repository row and its on-disk model, and the path inside it.
type resolved struct {
	owner   *models.User
	repoRow *models.Repo
	repo    *rdiff.Repo
	path    *rdiff.Path
	subpath string
}

// resolvePath decodes a /<username>/<repopath>/<subpath> URL suffix into
// a repository path, enforcing the owner-or-admin rule. The repopath is
// found by shortest-prefix match against the owner's repository rows;
// ?refresh=true rescans the user root and retries once. On failure the
// response is already written and ok is false.
func (s *Server) resolvePath(c *gin.Context, write bool) (*resolved, bool) {
	raw := strings.Trim(c.Param("path"), "/")
	if raw == "" {
		s.abortError(c, rdiff.ErrDoesNotExist, write)
		return nil, false
	}
	segments := strings.Split(raw, "/")
	owner, errOwner := s.Store.GetUserByName(segments[0])
	if errOwner != nil {
		s.abortError(c, errOwner, write)
		return nil, false
	}
	current := currentUser(c)
	if current == nil || (!strings.EqualFold(owner.Username, current.Username) && !current.IsAdmin()) {
		s.abortError(c, rdiff.ErrAccessDenied, write)
		return nil, false
	}

	repoRow, subpath, errMatch := s.matchRepo(owner, segments[1:])
	if errMatch != nil && errors.Is(errMatch, store.ErrNotFound) && c.Query("refresh") == "true" {
		if errRefresh := s.Store.RefreshRepos(owner, true); errRefresh != nil {
			s.abortError(c, errRefresh, write)
			return nil, false
		}
		repoRow, subpath, errMatch = s.matchRepo(owner, segments[1:])
	}
	if errMatch != nil {
		s.abortError(c, errMatch, write)
		return nil, false
	}
	if repoRow.Status == models.RepoStatusDeleting {
		// A repository queued for purge is gone from the UI.
		s.abortError(c, rdiff.ErrDoesNotExist, write)
		return nil, false
	}

	repo, errOpen := rdiff.Open(owner.UserRoot, repoRow.Repopath)
	if errOpen != nil {
		s.abortError(c, errOpen, write)
		return nil, false
	}
	if repoRow.Encoding != "" {
		// A read must never write into rdiff-backup-data.
		repo.UseEncoding(repoRow.Encoding)
	}
	path, errPath := repo.GetPath(subpath)
	if errPath != nil {
		s.abortError(c, errPath, write)
		return nil, false
	}
	return &resolved{owner: owner, repoRow: repoRow, repo: repo, path: path, subpath: subpath}, true
}

// matchRepo finds the repository row owning the given segments: the
// shortest leading prefix that names a known repopath wins, since a
// repository never nests another one.
func (s *Server) matchRepo(owner *models.User, segments []string) (*models.Repo, string, error) {
	// i == 0 covers a user root that is itself a repository.
	for i := 0; i <= len(segments); i++ {
		prefix := strings.Join(segments[:i], "/")
		repoRow, errGet := s.Store.GetRepo(owner.ID, prefix)
		if errGet == nil {
			return repoRow, strings.Join(segments[i:], "/"), nil
		}
		if !errors.Is(errGet, store.ErrNotFound) {
			return nil, "", errGet
		}
	}
	return nil, "", store.ErrNotFound
}
