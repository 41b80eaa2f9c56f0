package rdiff

import (
	"bytes"
	"testing"
)

func TestQuoteUnquoteRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("plain-name"),
		[]byte("with:colon"),
		[]byte("with;semicolon"),
		[]byte("control\x01\x1fbytes"),
		[]byte("R\xc3\xa9pertoire"),
		{0x00, 0x3a, 0x3b, 0x7f, 0xff},
	}
	for _, raw := range cases {
		quoted := Quote(raw)
		if got := Unquote(quoted); !bytes.Equal(got, raw) {
			t.Errorf("Unquote(Quote(%q)) = %q", raw, got)
		}
	}
}

func TestQuoteEscapesReservedBytes(t *testing.T) {
	if got := string(Quote([]byte("a:b"))); got != "a;058b" {
		t.Errorf("quote colon: got %q", got)
	}
	if got := string(Quote([]byte("a;b"))); got != "a;059b" {
		t.Errorf("quote semicolon: got %q", got)
	}
	if got := string(Quote([]byte{'a', 0x0a, 'b'})); got != "a;010b" {
		t.Errorf("quote newline: got %q", got)
	}
}

func TestUnquotePassesMalformedSequences(t *testing.T) {
	for _, value := range []string{"tail;", ";9x9", "no digits ;ab1", ";12"} {
		if got := UnquoteString(value); got != value {
			t.Errorf("UnquoteString(%q) = %q", value, got)
		}
	}
}

func TestUnquoteDecodesOrdinal(t *testing.T) {
	if got := UnquoteString("2014-11-05T16;05833;05833-05;05800"); got != "2014-11-05T16:33:33-05:00" {
		t.Errorf("unquoted timestamp: got %q", got)
	}
}
