package rdiff

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	// DataDirName is the reserved rdiff-backup data directory.
	DataDirName = "rdiff-backup-data"
	// incrementsDirName lives under the data directory.
	incrementsDirName = "increments"
	// hintFileName is the optional per-repository settings file.
	hintFileName = "rdiffweb"
)

// Repository states derived from the on-disk layout.
const (
	StatusOK          = "ok"
	StatusInProgress  = "in_progress"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
	StatusDeleting    = "deleting"
)

// Repo reconstructs a read-only view of one rdiff-backup repository at any
// historical timestamp, without parsing the reverse-delta format itself.
type Repo struct {
	// UserRoot is the owner's root directory, no trailing slash.
	UserRoot string
	// Path is the repository path relative to UserRoot.
	Path string
	// Root is the absolute repository root.
	Root string

	codec *Codec

	mu           sync.Mutex
	dataEntries  []string
	backupDates  []Time
	sessionStats map[int64]string
	fileStats    map[int64]string
	errorLogs    map[int64]string
}

// Open validates the repository layout and loads the encoding hint.
// A missing or unreadable data directory yields ErrDoesNotExist.
func Open(userRoot, path string) (*Repo, error) {
	repo := &Repo{
		UserRoot: strings.TrimRight(userRoot, "/"),
		Path:     strings.Trim(path, "/"),
	}
	repo.Root = filepath.Join(repo.UserRoot, repo.Path)

	info, errStat := os.Stat(repo.DataPath())
	if errStat != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, repo.Path)
	}

	repo.codec = NewCodec(repo.readHint("encoding"))
	return repo, nil
}

// DataPath returns the absolute rdiff-backup-data location.
func (r *Repo) DataPath() string {
	return filepath.Join(r.Root, DataDirName)
}

// IncrementsPath returns the absolute increments location.
func (r *Repo) IncrementsPath() string {
	return filepath.Join(r.DataPath(), incrementsDirName)
}

// Codec returns the repository's filename codec.
func (r *Repo) Codec() *Codec { return r.codec }

// DisplayName returns the human representation of the repository name.
func (r *Repo) DisplayName() string {
	if r.Path == "" {
		return r.codec.DecodeString(filepath.Base(r.UserRoot))
	}
	return r.codec.DecodeString(string(Unquote([]byte(r.Path))))
}

// readHint reads one key from the optional settings file, which keeps
// the filename existing deployments already use.
func (r *Repo) readHint(key string) string {
	file, errOpen := os.Open(filepath.Join(r.DataPath(), hintFileName))
	if errOpen != nil {
		return ""
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		if strings.TrimSpace(name) == key {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// UseEncoding switches the active codec for this handle only. Read
// paths use it to honor the stored per-repository encoding without
// touching the repository.
func (r *Repo) UseEncoding(name string) {
	r.codec = NewCodec(name)
}

// SetEncoding rewrites the hint file and switches the active codec.
func (r *Repo) SetEncoding(name string) error {
	codec := NewCodec(name)
	content := fmt.Sprintf("encoding=%s\n", codec.Name())
	hintPath := filepath.Join(r.DataPath(), hintFileName)
	if errWrite := os.WriteFile(hintPath, []byte(content), 0o644); errWrite != nil {
		return fmt.Errorf("rdiff: write hint file: %w", errWrite)
	}
	r.codec = codec
	return nil
}

// listDataEntries lists the data directory once and caches the result.
func (r *Repo) listDataEntries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dataEntries != nil {
		return r.dataEntries
	}
	entries, errRead := os.ReadDir(r.DataPath())
	if errRead != nil {
		log.WithError(errRead).Warnf("list data dir for %s", r.Root)
		r.dataEntries = []string{}
		return r.dataEntries
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	r.dataEntries = names
	return names
}

// BackupDates returns the sorted ascending list of backup timestamps.
// The set of distinct mirror_metadata timestamps is the set of dates.
func (r *Repo) BackupDates() []Time {
	r.mu.Lock()
	cached := r.backupDates
	r.mu.Unlock()
	if cached != nil {
		return cached
	}

	var dates []Time
	for _, name := range r.listDataEntries() {
		if !strings.HasPrefix(name, "mirror_metadata.") {
			continue
		}
		if entry, ok := ParseIncrement(name); ok {
			dates = append(dates, entry.Date)
		}
	}
	SortTimes(dates)
	r.mu.Lock()
	r.backupDates = dates
	r.mu.Unlock()
	return dates
}

// LastBackupDate returns the most recent backup date, or the zero Time.
func (r *Repo) LastBackupDate() Time {
	dates := r.BackupDates()
	if len(dates) == 0 {
		return Time{}
	}
	return dates[len(dates)-1]
}

// currentMirrors lists current_mirror.* markers.
func (r *Repo) currentMirrors() []string {
	var markers []string
	for _, name := range r.listDataEntries() {
		if strings.HasPrefix(name, "current_mirror.") {
			markers = append(markers, name)
		}
	}
	return markers
}

var pidPattern = regexp.MustCompile(`(?im)^PID\s*([0-9]+)`)

// InProgress reports whether a live rdiff-backup writer holds the repo.
// Each current_mirror marker records a PID; the PID counts only when the
// process is alive and its command line mentions rdiff-backup.
func (r *Repo) InProgress() bool {
	for _, marker := range r.currentMirrors() {
		content, errRead := os.ReadFile(filepath.Join(r.DataPath(), marker))
		if errRead != nil {
			continue
		}
		match := pidPattern.FindSubmatch(content)
		if match == nil {
			continue
		}
		pid, errParse := strconv.Atoi(string(match[1]))
		if errParse != nil {
			continue
		}
		if pidRunsRdiffBackup(pid) {
			return true
		}
	}
	return false
}

// pidRunsRdiffBackup probes /proc for a live rdiff-backup process.
func pidRunsRdiffBackup(pid int) bool {
	cmdline, errRead := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if errRead != nil {
		return false
	}
	return strings.Contains(strings.ReplaceAll(string(cmdline), "\x00", " "), "rdiff-backup")
}

// Status derives the repository state from the on-disk layout. The
// "deleting" state is owned by persistence and layered on by the caller.
func (r *Repo) Status() string {
	if _, errStat := os.Stat(r.DataPath()); errStat != nil {
		return StatusFailed
	}
	if r.InProgress() {
		return StatusInProgress
	}
	if len(r.currentMirrors()) > 1 || len(r.BackupDates()) == 0 {
		return StatusInterrupted
	}
	return StatusOK
}

// statEntries builds a date->filename index for one data-entry prefix.
func (r *Repo) statEntries(prefix string) map[int64]string {
	index := map[int64]string{}
	for _, name := range r.listDataEntries() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if entry, ok := ParseIncrement(name); ok {
			index[entry.Date.Unix()] = name
		}
	}
	return index
}

// SessionStatistics loads the session statistics for one backup date.
func (r *Repo) SessionStatistics(date Time) (*SessionStatistics, error) {
	r.mu.Lock()
	cached := r.sessionStats
	r.mu.Unlock()
	if cached == nil {
		cached = r.statEntries("session_statistics")
		r.mu.Lock()
		r.sessionStats = cached
		r.mu.Unlock()
	}
	name, ok := cached[date.Unix()]
	if !ok {
		return nil, fmt.Errorf("%w: session statistics at %s", ErrDoesNotExist, date)
	}
	return loadSessionStatistics(r.DataPath(), name)
}

// FileStatistics returns the file statistics entry for one backup date.
func (r *Repo) FileStatistics(date Time) (*FileStatistics, error) {
	r.mu.Lock()
	cached := r.fileStats
	r.mu.Unlock()
	if cached == nil {
		cached = r.statEntries("file_statistics.")
		r.mu.Lock()
		r.fileStats = cached
		r.mu.Unlock()
	}
	name, ok := cached[date.Unix()]
	if !ok {
		return nil, fmt.Errorf("%w: file statistics at %s", ErrDoesNotExist, date)
	}
	return &FileStatistics{dataPath: r.DataPath(), name: name}, nil
}

// ErrorLog reads the error log text for one backup date. A missing log
// reads as empty.
func (r *Repo) ErrorLog(date Time) (string, error) {
	r.mu.Lock()
	cached := r.errorLogs
	r.mu.Unlock()
	if cached == nil {
		cached = r.statEntries("error_log.")
		r.mu.Lock()
		r.errorLogs = cached
		r.mu.Unlock()
	}
	name, ok := cached[date.Unix()]
	if !ok {
		return "", nil
	}
	reader, errOpen := openData(r.DataPath(), name)
	if errOpen != nil {
		return "", errOpen
	}
	defer func() { _ = reader.Close() }()
	var builder strings.Builder
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		builder.WriteString(r.codec.DecodeString(scanner.Text()))
		builder.WriteByte('\n')
	}
	return builder.String(), scanner.Err()
}

// HistoryEntry summarizes one backup session.
type HistoryEntry struct {
	Date          Time
	Size          int64
	IncrementSize int64
	Errors        string
}

// HistoryEntries returns per-backup-date summaries, newest last. A negative
// limit returns everything.
func (r *Repo) HistoryEntries(limit int) []HistoryEntry {
	dates := r.BackupDates()
	if limit >= 0 && len(dates) > limit {
		dates = dates[len(dates)-limit:]
	}
	entries := make([]HistoryEntry, 0, len(dates))
	for _, date := range dates {
		entry := HistoryEntry{Date: date}
		if stats, errStats := r.SessionStatistics(date); errStats == nil {
			entry.Size = stats.SourceFileSize()
			entry.IncrementSize = stats.IncrementFileSize()
		}
		entry.Errors, _ = r.ErrorLog(date)
		entries = append(entries, entry)
	}
	return entries
}

// Delete removes the repository tree permanently.
func (r *Repo) Delete() error {
	return os.RemoveAll(r.Root)
}
