package rdiff

import (
	"strings"
)

// IncrementKind classifies the suffix of an increment file.
type IncrementKind int

const (
	// IncrementUnknown marks entries with no recognized suffix.
	IncrementUnknown IncrementKind = iota
	// IncrementMissing marks ".missing" markers (file absent at that date).
	IncrementMissing
	// IncrementSnapshot marks full-content ".snapshot[.gz]" entries.
	IncrementSnapshot
	// IncrementDiff marks reverse-delta ".diff[.gz]" entries.
	IncrementDiff
	// IncrementDir marks ".dir" entries (the path was a directory).
	IncrementDir
	// IncrementData marks ".data[.gz]" metadata entries.
	IncrementData
)

// incrementSuffixes lists recognized suffixes, longest match first.
var incrementSuffixes = []struct {
	suffix     string
	kind       IncrementKind
	compressed bool
}{
	{".missing", IncrementMissing, false},
	{".snapshot.gz", IncrementSnapshot, true},
	{".snapshot", IncrementSnapshot, false},
	{".diff.gz", IncrementDiff, true},
	{".data.gz", IncrementData, true},
	{".data", IncrementData, false},
	{".dir", IncrementDir, false},
	{".diff", IncrementDiff, false},
}

// Increment represents one historical entry for one file at one backup
// date, named under rdiff-backup-data/increments or directly in the data
// directory for repository-wide metadata files.
type Increment struct {
	// Name is the raw on-disk file name, quoting preserved.
	Name string
	// Base is the file name with timestamp and suffix stripped.
	Base string
	// Date is the backup timestamp encoded in the name.
	Date Time
	// Kind classifies the suffix.
	Kind IncrementKind
	// Compressed reports a trailing ".gz".
	Compressed bool
}

// ParseIncrement splits an increment file name into its base name, its
// timestamp and its suffix kind. Names without a parsable timestamp return
// ok=false; callers skip them the way rdiff-backup does.
func ParseIncrement(name string) (Increment, bool) {
	entry := Increment{Name: name, Kind: IncrementUnknown}
	remainder := name
	for _, candidate := range incrementSuffixes {
		if strings.HasSuffix(remainder, candidate.suffix) {
			remainder = strings.TrimSuffix(remainder, candidate.suffix)
			entry.Kind = candidate.kind
			entry.Compressed = candidate.compressed
			break
		}
	}
	dot := strings.LastIndex(remainder, ".")
	if dot < 0 {
		return entry, false
	}
	date, errParse := ParseTime(remainder[dot+1:])
	if errParse != nil {
		return entry, false
	}
	entry.Base = remainder[:dot]
	entry.Date = date
	return entry, true
}

// HasSuffix reports whether the increment carries a recognized suffix.
func (i Increment) HasSuffix() bool { return i.Kind != IncrementUnknown }

// IsMissing reports a ".missing" marker.
func (i Increment) IsMissing() bool { return i.Kind == IncrementMissing }

// IsSnapshot reports a ".snapshot[.gz]" entry.
func (i Increment) IsSnapshot() bool { return i.Kind == IncrementSnapshot }

// IsDir reports a ".dir" entry.
func (i Increment) IsDir() bool { return i.Kind == IncrementDir }
