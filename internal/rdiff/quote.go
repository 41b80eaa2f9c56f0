package rdiff

import (
	"strconv"
)

// Quote encodes a raw byte string using the rdiff-backup ";NNN" convention.
// Bytes below 0x20, the colon and the semicolon are rewritten as a semicolon
// followed by the zero-padded decimal ordinal of the byte. Every other byte
// passes through untouched.
func Quote(value []byte) []byte {
	out := make([]byte, 0, len(value))
	for _, b := range value {
		if b < 0x20 || b == ':' || b == ';' {
			out = append(out, ';')
			out = append(out, []byte(pad3(int(b)))...)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Unquote decodes the ";NNN" convention. Any substring of a semicolon
// followed by exactly three decimal digits decodes to the single byte whose
// ordinal is NNN. Malformed sequences pass through verbatim.
func Unquote(value []byte) []byte {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		if value[i] == ';' && i+3 < len(value) &&
			isDigit(value[i+1]) && isDigit(value[i+2]) && isDigit(value[i+3]) {
			ordinal, errParse := strconv.Atoi(string(value[i+1 : i+4]))
			if errParse == nil && ordinal < 256 {
				out = append(out, byte(ordinal))
				i += 3
				continue
			}
		}
		out = append(out, value[i])
	}
	return out
}

// UnquoteString is a convenience wrapper over Unquote for string input.
func UnquoteString(value string) string {
	return string(Unquote([]byte(value)))
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func pad3(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
