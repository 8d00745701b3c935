package ai

import (
	"strings"
	"unicode"
)

// WordChunker re-slices streamed fragments so each emitted chunk ends on a
// word boundary (a word followed by its trailing whitespace).
type WordChunker struct {
	buf strings.Builder
}

// Push buffers fragment and returns every complete word now available.
func (w *WordChunker) Push(fragment string) []string {
	w.buf.WriteString(fragment)
	pending := w.buf.String()
	var out []string
	for {
		end := wordEnd(pending)
		if end < 0 {
			break
		}
		out = append(out, pending[:end])
		pending = pending[end:]
	}
	w.buf.Reset()
	w.buf.WriteString(pending)
	return out
}

// Flush returns whatever is still buffered.
func (w *WordChunker) Flush() string {
	rest := w.buf.String()
	w.buf.Reset()
	return rest
}

// wordEnd returns the index just past the first "non-space run + space run"
// in s, or -1 when the trailing whitespace run may still grow.
func wordEnd(s string) int {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	sawWord := false
	for i < len(s) && !isSpace(s[i]) {
		sawWord = true
		i++
	}
	if !sawWord || i == len(s) {
		return -1
	}
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i == len(s) {
		return -1
	}
	return i
}

func isSpace(b byte) bool {
	return b < 0x80 && unicode.IsSpace(rune(b))
}
