package rdiff

import (
	"errors"
	"fmt"
)

// Domain errors surfaced by the repository model. The HTTP layer maps them
// onto status codes in a single place.
var (
	// ErrDoesNotExist indicates the repository or path was not found.
	ErrDoesNotExist = errors.New("does not exist")
	// ErrAccessDenied indicates the path reaches into reserved data.
	ErrAccessDenied = errors.New("access denied")
	// ErrSymlinkAccessDenied indicates a symlink escaping the user root.
	ErrSymlinkAccessDenied = errors.New("symlink access denied")
)

// ExecuteError wraps a failed rdiff-backup invocation. Stderr is captured
// for the logs and must never reach a response body.
type ExecuteError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("rdiff: %s exited with %d", e.Command, e.ExitCode)
}
