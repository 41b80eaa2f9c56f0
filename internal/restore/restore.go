// Package restore reconstructs files and directories at a historical
// date by driving the external rdiff-backup binary, then streams the
// result as a download without buffering it in memory.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/backweb/backweb/internal/rdiff"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Archive kinds accepted by Restore.
const (
	KindZip    = "zip"
	KindTar    = "tar"
	KindTarGz  = "tar.gz"
	KindTarBz2 = "tar.bz2"
)

var (
	// ErrUnknownKind rejects archive kinds outside the supported set.
	ErrUnknownKind = errors.New("restore: unknown archive kind")
	// ErrRepoBusy rejects restores while a backup writer holds the repo.
	ErrRepoBusy = errors.New("restore: a backup is currently running")
	// ErrEmptyRestore indicates rdiff-backup succeeded but produced
	// nothing, which means the target did not exist at that date.
	ErrEmptyRestore = errors.New("restore: nothing restored")
)

// ValidKind reports whether kind names a supported archive format.
func ValidKind(kind string) bool {
	switch kind {
	case KindZip, KindTar, KindTarGz, KindTarBz2:
		return true
	}
	return false
}

// Runner executes the external restore command. Tests substitute one
// that populates the destination without a real rdiff-backup.
type Runner func(ctx context.Context, binary string, args []string) error

// Restorer drives restore subprocesses and archive construction.
type Restorer struct {
	// Binary is the rdiff-backup executable name or path.
	Binary string
	// TempDir hosts per-restore scratch directories. Empty selects the
	// OS default.
	TempDir string
	// Timeout caps one subprocess; overrun kills it.
	Timeout time.Duration
	// Run executes the subprocess.
	Run Runner
}

// New builds a Restorer with the production runner.
func New(binary, tempDir string, timeout time.Duration) *Restorer {
	if binary == "" {
		binary = "rdiff-backup"
	}
	if timeout <= 0 {
		timeout = 50 * time.Minute
	}
	r := &Restorer{Binary: binary, TempDir: tempDir, Timeout: timeout}
	r.Run = r.execRun
	return r
}

// execRun spawns rdiff-backup with a sanitized environment: only TMPDIR
// is preserved so the subprocess scratches in the configured location.
func (r *Restorer) execRun(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	tmp := r.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	cmd.Env = []string{"TMPDIR=" + tmp}
	output, errRun := cmd.CombinedOutput()
	if errRun != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(errRun, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &rdiff.ExecuteError{
			Command:  binary + " " + strings.Join(args, " "),
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(string(output)),
		}
	}
	return nil
}

// Restore reconstructs path as of the given date and returns the
// download filename plus a streaming reader of the requested kind. The
// caller must Close the reader; closing early aborts the archive walk
// and removes the scratch directory.
func (r *Restorer) Restore(ctx context.Context, path *rdiff.Path, asOf rdiff.Time, kind string) (string, io.ReadCloser, error) {
	if !ValidKind(kind) {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	repo := path.Repo()
	if repo.InProgress() {
		return "", nil, ErrRepoBusy
	}

	scratch, errScratch := r.makeScratch()
	if errScratch != nil {
		return "", nil, errScratch
	}
	target := filepath.Join(scratch, "restored")

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	source := filepath.Join(repo.Root, string(rdiff.Unquote([]byte(path.Rel))))
	args := []string{fmt.Sprintf("--restore-as-of=%d", asOf.Unix()), source, target}
	if errRun := r.Run(runCtx, r.Binary, args); errRun != nil {
		_ = os.RemoveAll(scratch)
		return "", nil, errRun
	}

	info, errStat := os.Lstat(target)
	if errStat != nil {
		_ = os.RemoveAll(scratch)
		return "", nil, ErrEmptyRestore
	}

	filename := downloadName(path, info.IsDir(), kind)
	if !info.IsDir() {
		reader, errOpen := os.Open(target)
		if errOpen != nil {
			_ = os.RemoveAll(scratch)
			return "", nil, fmt.Errorf("restore: open result: %w", errOpen)
		}
		return filename, &cleanupReader{reader: reader, cleanup: func() { _ = os.RemoveAll(scratch) }}, nil
	}
	return filename, r.streamArchive(target, scratch, repo.Codec(), kind), nil
}

// makeScratch allocates a unique scratch directory under TempDir.
func (r *Restorer) makeScratch() (string, error) {
	base := r.TempDir
	if base == "" {
		base = os.TempDir()
	}
	scratch := filepath.Join(base, "backweb-restore-"+uuid.NewString())
	if errMkdir := os.MkdirAll(scratch, 0o700); errMkdir != nil {
		return "", fmt.Errorf("restore: scratch dir: %w", errMkdir)
	}
	return scratch, nil
}

// downloadName computes the attachment filename: the repository display
// name at the root, otherwise the decoded basename, with the kind
// appended for directories.
func downloadName(path *rdiff.Path, isDir bool, kind string) string {
	repo := path.Repo()
	if path.Rel == "" {
		return repo.DisplayName() + "." + kind
	}
	base := filepath.Base(path.Rel)
	name := repo.Codec().Decode(rdiff.Unquote([]byte(base)))
	if isDir {
		name += "." + kind
	}
	return name
}

// streamArchive hands the read end of a pipe to the caller while one
// producer goroutine writes the archive. The pipe provides backpressure;
// nothing is buffered in full.
func (r *Restorer) streamArchive(root, scratch string, codec *rdiff.Codec, kind string) io.ReadCloser {
	pipeReader, pipeWriter := io.Pipe()
	go func() {
		errWrite := writeArchive(pipeWriter, root, codec, kind)
		if errWrite != nil && !errors.Is(errWrite, io.ErrClosedPipe) {
			log.WithError(errWrite).Error("archive stream failed")
		}
		// CloseWithError makes the consumer observe the failure instead
		// of a clean EOF.
		_ = pipeWriter.CloseWithError(errWrite)
		_ = os.RemoveAll(scratch)
	}()
	return &cleanupReader{reader: pipeReader, cleanup: func() {
		// Closing the read end unblocks the producer, which removes the
		// scratch directory itself.
	}}
}

// cleanupReader runs cleanup exactly once when the stream is closed.
type cleanupReader struct {
	reader  io.ReadCloser
	cleanup func()
	once    sync.Once
}

func (c *cleanupReader) Read(p []byte) (int, error) { return c.reader.Read(p) }

func (c *cleanupReader) Close() error {
	errClose := c.reader.Close()
	c.once.Do(c.cleanup)
	return errClose
}
