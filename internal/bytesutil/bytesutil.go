// Package bytesutil provides the small hex-parsing and word-patching
// helpers the rest of unbug builds on.
package bytesutil

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Split tokenizes s on delimiter, mirroring the original debugger's
// whitespace-splitting helper.
func Split(s string, delimiter byte) []string {
	return strings.Split(s, string(delimiter))
}

// IsPrefix reports whether s is a prefix of of. The direction matters:
// callers that want "does the user's token name a command" pass the
// user token first and the canonical command second; callers that
// want "does this string start with a literal" pass the literal first.
func IsPrefix(s, of string) bool {
	if len(s) > len(of) {
		return false
	}
	return of[:len(s)] == s
}

// BottomByte returns the low 8 bits of a 64-bit word.
func BottomByte(data uint64) byte {
	return byte(data & 0xff)
}

// SetBottomByte returns data with its low 8 bits replaced by b.
func SetBottomByte(data uint64, b byte) uint64 {
	return (data &^ 0xff) | uint64(b)
}

// ParseHex parses a "0x"-prefixed hex string with at least one digit.
func ParseHex(s string) (uint64, error) {
	if !IsPrefix("0x", s) || len(s) == 2 {
		return 0, errors.Errorf("bad hex value %q", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse hex %q", s)
	}
	return v, nil
}

// ParseAddr parses a virtual address in the same "0x..." form as ParseHex.
func ParseAddr(s string) (uintptr, error) {
	v, err := ParseHex(s)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}
