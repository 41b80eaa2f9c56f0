package rdiff

import (
	"testing"
	"time"
)

func TestParseTimeWithOffset(t *testing.T) {
	parsed, errParse := ParseTime("2014-11-05T21:04:30-05:00")
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if parsed.TZOffset() != -5*3600 {
		t.Errorf("offset: got %d", parsed.TZOffset())
	}
	// 2014-11-06T02:04:30Z absolute.
	if got := parsed.Unix(); got != 1415239470 {
		t.Errorf("unix: got %d", got)
	}
	if got := parsed.String(); got != "2014-11-05T21:04:30-05:00" {
		t.Errorf("string: got %q", got)
	}
}

func TestParseTimeZulu(t *testing.T) {
	parsed, errParse := ParseTime("2016-01-02T03:04:05Z")
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if parsed.TZOffset() != 0 {
		t.Errorf("offset: got %d", parsed.TZOffset())
	}
	if parsed.String() != "2016-01-02T03:04:05Z" {
		t.Errorf("string: got %q", parsed.String())
	}
}

func TestParseTimeQuotedColons(t *testing.T) {
	quoted, errQuoted := ParseTime("2014-11-05T21;05804;05830-05;05800")
	if errQuoted != nil {
		t.Fatalf("parse quoted: %v", errQuoted)
	}
	plain, _ := ParseTime("2014-11-05T21:04:30-05:00")
	if !quoted.Equal(plain) {
		t.Errorf("quoted form differs: %d vs %d", quoted.Unix(), plain.Unix())
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "2014-11-05", "not-a-date", "2014-11-05T21:04:30", "2014-11-05T21:04:30+0500"} {
		if _, errParse := ParseTime(value); errParse == nil {
			t.Errorf("ParseTime(%q) accepted", value)
		}
	}
}

func TestTimeOrderingComparesAbsoluteInstant(t *testing.T) {
	// Same instant expressed in two zones.
	east, _ := ParseTime("2014-11-06T02:04:30Z")
	west, _ := ParseTime("2014-11-05T21:04:30-05:00")
	if !east.Equal(west) {
		t.Fatalf("expected equality across zones")
	}
	later := east.Add(time.Minute)
	if !later.After(west) || !west.Before(later) {
		t.Errorf("ordering broken")
	}
}

func TestFormatQuoted(t *testing.T) {
	parsed, _ := ParseTime("2014-11-05T21:04:30-05:00")
	if got := parsed.FormatQuoted(); got != "2014-11-05T21;05804;05830-05;05800" {
		t.Errorf("FormatQuoted: got %q", got)
	}
}

func TestSortTimesAndFirstAfter(t *testing.T) {
	a := FromUnix(100)
	b := FromUnix(200)
	c := FromUnix(300)
	times := []Time{c, a, b}
	SortTimes(times)
	if times[0].Unix() != 100 || times[2].Unix() != 300 {
		t.Fatalf("sort order wrong: %v", times)
	}
	if got := FirstAfter(times, FromUnix(150)); got.Unix() != 200 {
		t.Errorf("FirstAfter(150): got %d", got.Unix())
	}
	if got := FirstAfter(times, FromUnix(300)); !got.IsZero() {
		t.Errorf("FirstAfter(300): got %d", got.Unix())
	}
}
