package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/backweb/backweb/internal/models"
	"github.com/backweb/backweb/internal/rdiff"
	"github.com/backweb/backweb/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// archiveContentTypes maps restore kinds onto download MIME types.
var archiveContentTypes = map[string]string{
	"zip":     "application/zip",
	"tar":     "application/x-tar",
	"tar.gz":  "application/x-gzip",
	"tar.bz2": "application/x-bzip2",
}

// dashboard lists the current user's repositories with their disk
// status and last backup date.
func (s *Server) dashboard(c *gin.Context) {
	user := currentUser(c)
	rows, errList := s.Store.ListRepos(user.ID)
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	repos := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		entry := gin.H{
			"name":     row.Repopath,
			"status":   row.Status,
			"keepdays": row.Keepdays,
			"maxage":   row.MaxageDays,
		}
		if repo, errOpen := rdiff.Open(user.UserRoot, row.Repopath); errOpen == nil {
			entry["name"] = repo.DisplayName()
			entry["status"] = repo.Status()
			if last := repo.LastBackupDate(); !last.IsZero() {
				entry["last_backup_date"] = last.Unix()
			}
		} else if row.Status != models.RepoStatusDeleting {
			entry["status"] = models.RepoStatusFailed
		}
		repos = append(repos, entry)
	}
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "repos": repos})
}

// browse lists a directory inside a repository, optionally as of a past
// backup date.
func (s *Server) browse(c *gin.Context) {
	r, ok := s.resolvePath(c, false)
	if !ok {
		return
	}
	var entries []*rdiff.DirEntry
	var errList error
	if raw := c.Query("date"); raw != "" {
		epoch, errParse := strconv.ParseInt(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid date"})
			return
		}
		entries, errList = r.path.DirEntriesAt(rdiff.FromUnix(epoch))
	} else {
		entries, errList = r.path.DirEntries()
	}
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	listing := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		item := gin.H{
			"display_name": entry.DisplayName(),
			"path":         browseLink(r.owner.Username, r.repoRow.Repopath, entry.Rel()),
			"is_dir":       entry.IsDir(),
		}
		if !entry.IsDir() {
			item["size"] = entry.FileSize()
		}
		if last := entry.LastChangeDate(); !last.IsZero() {
			item["last_change_date"] = last.Unix()
		}
		listing = append(listing, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"display_name": r.repo.DisplayName(),
		"repo_status":  r.repo.Status(),
		"entries":      listing,
	})
}

// browseLink builds the percent-encoded URL suffix for one entry.
func browseLink(username, repopath, rel string) string {
	segments := []string{username}
	for _, part := range strings.Split(repopath+"/"+rel, "/") {
		if part != "" {
			segments = append(segments, url.PathEscape(part))
		}
	}
	return "/" + strings.Join(segments, "/")
}

// history renders the change dates of a path, or the full backup log of
// the repository root with per-session statistics.
func (s *Server) history(c *gin.Context) {
	r, ok := s.resolvePath(c, false)
	if !ok {
		return
	}
	limit := -1
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid limit"})
			return
		}
		limit = parsed
	}
	if r.subpath == "" {
		entries := r.repo.HistoryEntries(limit)
		history := make([]gin.H, 0, len(entries))
		for _, entry := range entries {
			item := gin.H{
				"date":           entry.Date.Unix(),
				"size":           entry.Size,
				"increment_size": entry.IncrementSize,
			}
			if entry.Errors != "" {
				item["errors"] = entry.Errors
			}
			history = append(history, item)
		}
		c.JSON(http.StatusOK, gin.H{"display_name": r.repo.DisplayName(), "history": history})
		return
	}
	dates, errDates := r.path.RestoreDates()
	if errDates != nil {
		s.abortError(c, errDates, false)
		return
	}
	changes := make([]int64, 0, len(dates))
	for _, date := range dates {
		changes = append(changes, date.Unix())
	}
	c.JSON(http.StatusOK, gin.H{"restore_dates": changes})
}

// restoreDownload streams the path content as of the requested date in
// the requested archive kind. The body starts flowing before the
// restore completes, so a late subprocess failure truncates the stream.
func (s *Server) restoreDownload(c *gin.Context) {
	r, ok := s.resolvePath(c, false)
	if !ok {
		return
	}
	epoch, errParse := strconv.ParseInt(c.Query("date"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid or missing date"})
		return
	}
	kind := c.DefaultQuery("kind", "zip")
	filename, reader, errRestore := s.Restorer.Restore(c.Request.Context(), r.path, rdiff.FromUnix(epoch), kind)
	if errRestore != nil {
		s.abortError(c, errRestore, false)
		return
	}
	defer func() {
		if errClose := reader.Close(); errClose != nil {
			log.Warnf("restore stream close: %v", errClose)
		}
	}()
	contentType := archiveContentTypes[kind]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", contentDisposition(filename))
	c.Status(http.StatusOK)
	if _, errCopy := io.Copy(c.Writer, reader); errCopy != nil {
		log.Warnf("restore stream for %s interrupted: %v", filename, errCopy)
	}
}

// contentDisposition builds an attachment header safe for non-ASCII
// filenames, with a plain fallback for old clients.
func contentDisposition(filename string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 32 || r > 126 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s",
		fallback, url.PathEscape(filename))
}

// deletePath schedules the removal of a repository or a path inside
// one. The caller must re-type the display name; the purge itself runs
// in the background only after the database change commits.
func (s *Server) deletePath(c *gin.Context) {
	r, ok := s.resolvePath(c, true)
	if !ok {
		return
	}
	expected := r.repo.DisplayName()
	if r.subpath != "" {
		expected = r.repo.Codec().DecodeString(rdiff.UnquoteString(filepath.Base(r.subpath)))
	}
	if c.PostForm("confirm") != expected {
		c.JSON(http.StatusBadRequest, gin.H{"message": "confirmation does not match"})
		return
	}

	if r.subpath != "" {
		target := r.path
		s.Jobs.Enqueue("delete-path", func(ctx context.Context) error {
			if !s.DeleteData {
				return nil
			}
			return removeSubpathData(target)
		})
		c.JSON(http.StatusOK, gin.H{"message": "deletion scheduled"})
		return
	}

	repoID := r.repoRow.ID
	userID := currentUser(c).ID
	repoDir := r.repo.DataPath()
	errTx := s.Jobs.Transaction(s.Store.DB, func(tx *gorm.DB, buffer *scheduler.Buffer) error {
		txStore := s.Store.WithDB(tx)
		if errFlag := txStore.FlagRepoDeleting(repoID, &userID); errFlag != nil {
			return errFlag
		}
		buffer.Add("delete-repo", func(ctx context.Context) error {
			if s.DeleteData {
				if errRemove := os.RemoveAll(filepath.Dir(repoDir)); errRemove != nil {
					return errRemove
				}
			}
			return s.Store.DeleteRepo(repoID)
		})
		return nil
	})
	if errTx != nil {
		s.abortError(c, errTx, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deletion scheduled"})
}

// removeSubpathData drops a path's current copy and all its increments.
func removeSubpathData(p *rdiff.Path) error {
	if errRemove := os.RemoveAll(p.FullPath()); errRemove != nil {
		return errRemove
	}
	incrementsPath := p.IncrementsPath()
	if errRemove := os.RemoveAll(incrementsPath); errRemove != nil {
		return errRemove
	}
	// Increment files live next to the path's increments dir, named
	// <base>.<timestamp>.<suffix>.
	parent := filepath.Dir(incrementsPath)
	prefix := filepath.Base(incrementsPath) + "."
	entries, errRead := os.ReadDir(parent)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return nil
		}
		return errRead
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			if errRemove := os.RemoveAll(filepath.Join(parent, entry.Name())); errRemove != nil {
				return errRemove
			}
		}
	}
	return nil
}

// statusFeed renders the recent backup activity of the current user's
// repositories as RSS.
func (s *Server) statusFeed(c *gin.Context) {
	user := currentUser(c)
	rows, errList := s.Store.ListRepos(user.ID)
	if errList != nil {
		s.abortError(c, errList, false)
		return
	}
	base := strings.TrimRight(s.Cfg.ExternalURL, "/")
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s backup status", s.Cfg.HeaderName),
		Link:        &feeds.Link{Href: base + "/"},
		Description: fmt.Sprintf("Backup activity for %s", user.Username),
	}
	for _, row := range rows {
		repo, errOpen := rdiff.Open(user.UserRoot, row.Repopath)
		if errOpen != nil {
			continue
		}
		for _, entry := range repo.HistoryEntries(10) {
			title := fmt.Sprintf("%s backed up", repo.DisplayName())
			if entry.Errors != "" {
				title = fmt.Sprintf("%s backed up with errors", repo.DisplayName())
			}
			feed.Items = append(feed.Items, &feeds.Item{
				Title:   title,
				Link:    &feeds.Link{Href: base + browseLink(user.Username, row.Repopath, "")},
				Created: entry.Date.Time(),
				Description: fmt.Sprintf("%d bytes in source, %d bytes of increments",
					entry.Size, entry.IncrementSize),
			})
		}
	}
	rss, errRender := feed.ToRss()
	if errRender != nil {
		s.abortError(c, errRender, false)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
