package rdiff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Time carries the two components rdiff-backup records for every backup:
// the local wall-clock time stored as seconds since epoch, and the timezone
// stored as a seconds offset from UTC. The server may not share a timezone
// with the machine that produced the backup, so the offset recorded in the
// filename is authoritative. Comparison operates on the absolute instant.
type Time struct {
	// localSeconds is the wall-clock time interpreted as if it were UTC.
	localSeconds int64
	// tzOffset is the seconds east of UTC recorded with the timestamp.
	tzOffset int
}

// NewTime builds a Time from an absolute epoch and a timezone offset.
func NewTime(epoch int64, tzOffset int) Time {
	return Time{localSeconds: epoch + int64(tzOffset), tzOffset: tzOffset}
}

// FromUnix builds a UTC Time from an absolute epoch.
func FromUnix(epoch int64) Time {
	return Time{localSeconds: epoch}
}

// ParseTime parses an ISO-8601 timestamp with explicit offset, e.g.
// "2014-11-05T21:04:30-05:00". Colons quoted as ";058" are decoded first,
// so filename-safe variants parse the same as the canonical form.
func ParseTime(value string) (Time, error) {
	value = string(Unquote([]byte(value)))
	if len(value) < 20 {
		return Time{}, fmt.Errorf("rdiff: invalid timestamp %q", value)
	}
	stamp, zone := value[:19], value[19:]
	parsed, errParse := time.Parse("2006-01-02T15:04:05", stamp)
	if errParse != nil {
		return Time{}, fmt.Errorf("rdiff: invalid timestamp %q: %w", value, errParse)
	}
	offset, errZone := parseTZD(zone)
	if errZone != nil {
		return Time{}, fmt.Errorf("rdiff: invalid timestamp %q: %w", value, errZone)
	}
	return Time{localSeconds: parsed.Unix(), tzOffset: offset}, nil
}

// parseTZD converts a W3C timezone designator ("Z" or "+HH:MM") to seconds.
func parseTZD(zone string) (int, error) {
	if zone == "Z" {
		return 0, nil
	}
	if len(zone) != 6 || (zone[0] != '+' && zone[0] != '-') || zone[3] != ':' {
		return 0, fmt.Errorf("bad timezone designator %q", zone)
	}
	hours, errHours := strconv.Atoi(zone[1:3])
	minutes, errMinutes := strconv.Atoi(zone[4:6])
	if errHours != nil || errMinutes != nil || hours > 23 || minutes > 59 {
		return 0, fmt.Errorf("bad timezone designator %q", zone)
	}
	offset := hours*3600 + minutes*60
	if zone[0] == '-' {
		offset = -offset
	}
	return offset, nil
}

// Unix returns the absolute instant as seconds since epoch.
func (t Time) Unix() int64 { return t.localSeconds - int64(t.tzOffset) }

// LocalSeconds returns the wall-clock seconds, for display purposes.
func (t Time) LocalSeconds() int64 { return t.localSeconds }

// TZOffset returns the recorded timezone offset in seconds.
func (t Time) TZOffset() int { return t.tzOffset }

// IsZero reports whether the value is the zero Time.
func (t Time) IsZero() bool { return t.localSeconds == 0 && t.tzOffset == 0 }

// Equal compares the absolute instant.
func (t Time) Equal(other Time) bool { return t.Unix() == other.Unix() }

// Before compares the absolute instant.
func (t Time) Before(other Time) bool { return t.Unix() < other.Unix() }

// After compares the absolute instant.
func (t Time) After(other Time) bool { return t.Unix() > other.Unix() }

// Add returns a Time shifted by the given duration, keeping the offset.
func (t Time) Add(d time.Duration) Time {
	return Time{localSeconds: t.localSeconds + int64(d/time.Second), tzOffset: t.tzOffset}
}

// Time converts to a time.Time in the recorded fixed zone.
func (t Time) Time() time.Time {
	return time.Unix(t.Unix(), 0).In(time.FixedZone(t.zoneString(), t.tzOffset))
}

// String emits the canonical ISO-8601 form with explicit offset.
func (t Time) String() string {
	local := time.Unix(t.localSeconds, 0).UTC()
	return local.Format("2006-01-02T15:04:05") + t.zoneString()
}

// FormatQuoted emits the filename-safe form with colons quoted as ";058".
func (t Time) FormatQuoted() string {
	return strings.ReplaceAll(t.String(), ":", ";058")
}

func (t Time) zoneString() string {
	if t.tzOffset == 0 {
		return "Z"
	}
	offset := t.tzOffset
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offset/3600, (offset%3600)/60)
}

// SortTimes sorts a slice of Time ascending by absolute instant.
func SortTimes(times []Time) {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
}

// FirstAfter returns the first time in the sorted slice strictly after the
// given reference, or the zero Time when none exists.
func FirstAfter(sorted []Time, reference Time) Time {
	for _, candidate := range sorted {
		if candidate.After(reference) {
			return candidate
		}
	}
	return Time{}
}
