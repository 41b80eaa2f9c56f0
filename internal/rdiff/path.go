package rdiff

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Path represents one location inside a repository: the root, a directory
// or a file, existing on the current mirror or reachable only through
// increments.
type Path struct {
	repo *Repo
	// Rel is the path relative to the repository root, quoting preserved.
	Rel string
}

// GetPath resolves a relative path inside the repository and validates it:
// the reserved data directory is unreachable, symlinks may not escape the
// user root, and the location must exist on the mirror or in increments.
func (r *Repo) GetPath(rel string) (*Path, error) {
	rel = strings.Trim(rel, "/")
	if rel == DataDirName || strings.HasPrefix(rel, DataDirName+"/") {
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, rel)
	}
	path := &Path{repo: r, Rel: rel}

	if errEscape := r.checkEscape(path.FullPath()); errEscape != nil {
		return nil, errEscape
	}

	if _, errStat := os.Lstat(path.FullPath()); errStat == nil {
		return path, nil
	}
	// Not on the mirror. The location is still valid when increments for
	// its base name exist under the parent's increments directory.
	parent, base := filepath.Split(rel)
	incrementsDir := filepath.Join(r.IncrementsPath(), parent)
	entries, errRead := os.ReadDir(incrementsDir)
	if errRead != nil {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, rel)
	}
	for _, entry := range entries {
		if increment, ok := ParseIncrement(entry.Name()); ok && increment.Base == base {
			return path, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, rel)
}

// checkEscape verifies the real path stays under the real user root.
func (r *Repo) checkEscape(full string) error {
	realRoot, errRoot := filepath.EvalSymlinks(r.UserRoot)
	if errRoot != nil {
		return fmt.Errorf("%w: %s", ErrDoesNotExist, r.UserRoot)
	}
	// The path may only exist historically; resolve the deepest ancestor
	// still present on disk.
	probe := full
	for {
		info, errStat := os.Lstat(probe)
		if errStat == nil {
			if info.Mode()&os.ModeSymlink != 0 {
				if _, errTarget := os.Stat(probe); errTarget != nil {
					return fmt.Errorf("%w: %s", ErrDoesNotExist, probe)
				}
			}
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	real, errReal := filepath.EvalSymlinks(probe)
	if errReal != nil {
		return fmt.Errorf("%w: %s", ErrDoesNotExist, probe)
	}
	if real != realRoot && !strings.HasPrefix(real, realRoot+string(os.PathSeparator)) {
		log.Warnf("path %s resolves outside user root %s", full, r.UserRoot)
		return fmt.Errorf("%w: %s", ErrSymlinkAccessDenied, full)
	}
	return nil
}

// FullPath returns the absolute location on the current mirror.
func (p *Path) FullPath() string {
	return filepath.Join(p.repo.Root, p.Rel)
}

// IncrementsPath returns the increments directory for this path.
func (p *Path) IncrementsPath() string {
	return filepath.Join(p.repo.IncrementsPath(), p.Rel)
}

// Repo returns the owning repository.
func (p *Path) Repo() *Repo { return p.repo }

// Exists reports whether the path is present on the current mirror.
func (p *Path) Exists() bool {
	_, errStat := os.Lstat(p.FullPath())
	return errStat == nil
}

// IsDir reports whether the mirror location is a directory.
func (p *Path) IsDir() bool {
	info, errStat := os.Stat(p.FullPath())
	return errStat == nil && info.IsDir()
}

// DirEntry is one name inside a virtual directory: the union of what the
// current mirror holds and what the increments remember.
type DirEntry struct {
	path *Path
	// Name is the raw entry name, quoting preserved.
	Name string
	// Exists reports presence on the current mirror.
	Exists bool

	increments  []Increment
	changeDates []Time
	isDir       *bool
}

// DirEntries lists the virtual directory for this path. Entries are the
// union of mirror names and increment base names; rdiff-backup-data is
// always hidden at the repository root.
func (p *Path) DirEntries() ([]*DirEntry, error) {
	grouped := map[string][]Increment{}
	if entries, errRead := os.ReadDir(p.IncrementsPath()); errRead == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			increment, ok := ParseIncrement(entry.Name())
			if !ok {
				continue
			}
			grouped[increment.Base] = append(grouped[increment.Base], increment)
		}
	}

	existing := map[string]bool{}
	if entries, errRead := os.ReadDir(p.FullPath()); errRead == nil {
		for _, entry := range entries {
			if p.Rel == "" && entry.Name() == DataDirName {
				continue
			}
			existing[entry.Name()] = true
		}
	}

	result := make([]*DirEntry, 0, len(grouped)+len(existing))
	for base, increments := range grouped {
		sort.Slice(increments, func(i, j int) bool {
			return increments[i].Date.Before(increments[j].Date)
		})
		result = append(result, &DirEntry{
			path:       p,
			Name:       base,
			Exists:     existing[base],
			increments: increments,
		})
	}
	for name := range existing {
		if _, seen := grouped[name]; seen {
			continue
		}
		result = append(result, &DirEntry{path: p, Name: name, Exists: true})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DirEntriesAt lists the virtual directory as of the given timestamp:
// the union of mirror presence and increment reconstruction. A name
// still on the mirror was present at asOf unless its oldest increment
// is a later ".missing" marker, which proves it only appeared after
// asOf. Deleted names count while their increments reach back to asOf.
func (p *Path) DirEntriesAt(asOf Time) ([]*DirEntry, error) {
	entries, errList := p.DirEntries()
	if errList != nil {
		return nil, errList
	}
	filtered := make([]*DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.presentAt(asOf) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// presentAt approximates whether the entry existed at the given backup
// date. A mirror entry whose increments all postdate asOf was simply
// modified later, an unchanged file has no increments at all.
func (e *DirEntry) presentAt(asOf Time) bool {
	if len(e.increments) == 0 {
		return e.Exists
	}
	if e.Exists {
		oldest := e.increments[0]
		return !(oldest.IsMissing() && oldest.Date.After(asOf))
	}
	for _, increment := range e.increments {
		if !increment.Date.After(asOf) {
			return true
		}
	}
	return false
}

// Entry returns the DirEntry describing one child name of this path.
func (p *Path) Entry(name string) (*DirEntry, error) {
	entries, errList := p.DirEntries()
	if errList != nil {
		return nil, errList
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, name)
}

// RestoreDates returns the valid restore dates for this path, old to new.
// The repository root restores at every backup date.
func (p *Path) RestoreDates() ([]Time, error) {
	if p.Rel == "" {
		return p.repo.BackupDates(), nil
	}
	parentRel, name := filepath.Split(p.Rel)
	parent := &Path{repo: p.repo, Rel: strings.Trim(parentRel, "/")}
	entry, errEntry := parent.Entry(name)
	if errEntry != nil {
		return nil, errEntry
	}
	return entry.RestoreDates(), nil
}

// DisplayName returns the unquoted, codec-decoded entry name.
func (e *DirEntry) DisplayName() string {
	return e.path.repo.codec.Decode(Unquote([]byte(e.Name)))
}

// Rel returns the entry path relative to the repository root.
func (e *DirEntry) Rel() string {
	return strings.Trim(filepath.Join(e.path.Rel, e.Name), "/")
}

// FullPath returns the entry's absolute mirror location.
func (e *DirEntry) FullPath() string {
	return filepath.Join(e.path.FullPath(), e.Name)
}

// IsDir reports whether the entry is a directory, on the mirror when it
// exists, otherwise according to its first real increment.
func (e *DirEntry) IsDir() bool {
	if e.isDir != nil {
		return *e.isDir
	}
	var isDir bool
	if e.Exists {
		info, errStat := os.Stat(e.FullPath())
		isDir = errStat == nil && info.IsDir()
	} else {
		for _, increment := range e.increments {
			if increment.IsMissing() {
				continue
			}
			isDir = increment.IsDir()
			break
		}
	}
	e.isDir = &isDir
	return isDir
}

// ChangeDates returns the dates at which this entry was backed up with a
// different state, old to new. A ".missing" increment contributes the first
// backup date strictly after it, the date the entry actually disappeared.
// An entry still on the mirror contributes the last backup date.
func (e *DirEntry) ChangeDates() []Time {
	if e.changeDates != nil {
		return e.changeDates
	}
	backupDates := e.path.repo.BackupDates()
	dates := make([]Time, 0, len(e.increments)+1)
	seen := map[int64]bool{}
	appendDate := func(date Time) {
		if date.IsZero() || seen[date.Unix()] {
			return
		}
		seen[date.Unix()] = true
		dates = append(dates, date)
	}
	for _, increment := range e.increments {
		if !increment.HasSuffix() {
			continue
		}
		date := increment.Date
		if !increment.IsSnapshot() && increment.IsMissing() {
			date = FirstAfter(backupDates, date)
		}
		appendDate(date)
	}
	if e.Exists {
		appendDate(e.path.repo.LastBackupDate())
	}
	e.changeDates = dates
	return dates
}

// LastChangeDate returns the most recent change date, or the zero Time.
func (e *DirEntry) LastChangeDate() Time {
	dates := e.ChangeDates()
	if len(dates) == 0 {
		return Time{}
	}
	return dates[len(dates)-1]
}

// FileSize returns the entry size in bytes. Deleted entries fall back to
// the file_statistics record of their last change date.
func (e *DirEntry) FileSize() int64 {
	if e.Exists {
		info, errStat := os.Lstat(e.FullPath())
		if errStat != nil {
			return 0
		}
		return info.Size()
	}
	stats, errStats := e.path.repo.FileStatistics(e.LastChangeDate())
	if errStats != nil {
		log.Warnf("no file statistics at %s for %s", e.LastChangeDate(), e.Rel())
		return 0
	}
	unquoted := string(Unquote([]byte(e.Rel())))
	return stats.SourceSize(unquoted)
}

// RestoreDates returns the backup dates at which this entry can be
// restored: not before it first appeared and, when deleted, not after it
// disappeared.
func (e *DirEntry) RestoreDates() []Time {
	changeDates := e.ChangeDates()
	if len(changeDates) == 0 {
		return nil
	}
	first, last := changeDates[0], changeDates[len(changeDates)-1]
	var dates []Time
	for _, date := range e.path.repo.BackupDates() {
		if date.Before(first) {
			continue
		}
		if !e.Exists && date.After(last) {
			continue
		}
		dates = append(dates, date)
	}
	return dates
}
