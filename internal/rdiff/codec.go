package rdiff

import (
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Codec decodes raw on-disk file names into displayable strings using the
// repository's configured character set. Decoding never fails: invalid
// sequences are replaced, so listings survive mis-encoded names.
type Codec struct {
	name string
}

// DefaultEncoding is the fallback repository encoding.
const DefaultEncoding = "utf-8"

// NewCodec resolves a codec by IANA/WHATWG name. Unknown names fall back
// to UTF-8 so a bad hint file cannot break a repository.
func NewCodec(name string) *Codec {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = DefaultEncoding
	}
	if _, errLookup := htmlindex.Get(name); errLookup != nil {
		name = DefaultEncoding
	}
	return &Codec{name: name}
}

// Name returns the resolved encoding name.
func (c *Codec) Name() string { return c.name }

// Decode converts raw bytes to a string with a replace policy for
// undecodable sequences.
func (c *Codec) Decode(value []byte) string {
	if c.isUTF8() {
		return strings.ToValidUTF8(string(value), "�")
	}
	enc, errLookup := htmlindex.Get(c.name)
	if errLookup != nil {
		return strings.ToValidUTF8(string(value), "�")
	}
	decoded, errDecode := enc.NewDecoder().Bytes(value)
	if errDecode != nil {
		return strings.ToValidUTF8(string(value), "�")
	}
	return string(decoded)
}

// DecodeString is Decode over string input.
func (c *Codec) DecodeString(value string) string { return c.Decode([]byte(value)) }

func (c *Codec) isUTF8() bool {
	return c.name == "utf-8" || c.name == "utf8" || c.name == "ascii" || c.name == "us-ascii"
}
