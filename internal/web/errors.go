package web

import (
	"errors"
	"net/http"

	"github.com/backweb/backweb/internal/rdiff"
	"github.com/backweb/backweb/internal/restore"
	"github.com/backweb/backweb/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// abortError maps domain errors to HTTP statuses in one place. Read
// denials are masked as 404 so probing cannot distinguish "absent" from
// "forbidden"; write denials stay 403. Subprocess stderr never reaches
// the response body.
func (s *Server) abortError(c *gin.Context, err error, write bool) {
	var execErr *rdiff.ExecuteError
	switch {
	case errors.Is(err, rdiff.ErrDoesNotExist), errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "Not Found"})
	case errors.Is(err, rdiff.ErrAccessDenied), errors.Is(err, rdiff.ErrSymlinkAccessDenied):
		if write {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
			return
		}
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "Not Found"})
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrIntegrity),
		errors.Is(err, restore.ErrUnknownKind), errors.Is(err, restore.ErrRepoBusy),
		errors.Is(err, restore.ErrEmptyRestore):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, store.ErrProtected):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case errors.As(err, &execErr):
		log.Errorf("%s failed with exit code %d: %s", execErr.Command, execErr.ExitCode, execErr.Stderr)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
	default:
		log.Errorf("unhandled error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
	}
}
