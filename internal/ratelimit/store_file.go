package ratelimit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore serializes one "<hits> <reset_epoch>" line per key into a
// file named by the key under dir. Writes go through a temp file and
// rename so a crash mid-write never leaves a partial counter visible.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates dir if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if errMkdir := os.MkdirAll(dir, 0o700); errMkdir != nil {
		return nil, fmt.Errorf("ratelimit: create %s: %w", dir, errMkdir)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Hit implements Store.
func (f *FileStore) Hit(key string, window time.Duration, count int) (int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	path := filepath.Join(f.dir, key)
	hits, reset := f.read(path)
	if !reset.After(now) {
		hits = 0
		reset = now.Add(window)
	}
	if count == 0 {
		// A peek never touches the filesystem state.
		return hits, reset, nil
	}
	hits += count

	tmp, errTmp := os.CreateTemp(f.dir, key+".*")
	if errTmp != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: temp file: %w", errTmp)
	}
	defer os.Remove(tmp.Name())
	if errChmod := tmp.Chmod(0o600); errChmod != nil {
		tmp.Close()
		return 0, time.Time{}, fmt.Errorf("ratelimit: chmod: %w", errChmod)
	}
	if _, errWrite := fmt.Fprintf(tmp, "%d %d", hits, reset.Unix()); errWrite != nil {
		tmp.Close()
		return 0, time.Time{}, fmt.Errorf("ratelimit: write: %w", errWrite)
	}
	if errClose := tmp.Close(); errClose != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: close: %w", errClose)
	}
	if errRename := os.Rename(tmp.Name(), path); errRename != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: rename: %w", errRename)
	}
	return hits, reset, nil
}

// read returns the stored counter or zeros when absent or malformed.
// A malformed file is treated as an expired window rather than an error.
func (f *FileStore) read(path string) (int, time.Time) {
	raw, errRead := os.ReadFile(path)
	if errRead != nil {
		return 0, time.Time{}
	}
	fields := strings.Fields(string(raw))
	if len(fields) != 2 {
		return 0, time.Time{}
	}
	var hits int
	var resetEpoch int64
	if _, errScan := fmt.Sscanf(fields[0]+" "+fields[1], "%d %d", &hits, &resetEpoch); errScan != nil {
		return 0, time.Time{}
	}
	return hits, time.Unix(resetEpoch, 0)
}
