package session

import (
	"strings"
	"unicode/utf8"
)

// textDecoder turns a byte stream into text, holding back a trailing
// incomplete UTF-8 sequence until the next read completes it.
type textDecoder struct {
	pending []byte
}

func (d *textDecoder) Decode(p []byte) string {
	buf := append(d.pending, p...)
	cut := incompleteSuffix(buf)
	d.pending = append([]byte(nil), buf[len(buf)-cut:]...)
	return string(buf[:len(buf)-cut])
}

// Flush returns whatever is still held back. Bytes that never completed a
// rune are replaced with U+FFFD.
func (d *textDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = nil
	return s
}

// incompleteSuffix reports how many trailing bytes of b start a rune that is
// not yet complete.
func incompleteSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}
