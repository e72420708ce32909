// Package segment provides incremental, punctuation-aware sentence
// segmentation for streaming UTF-8 text.
package segment

import (
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// terminals are the punctuation marks that end a sentence. Each encodes to
// three bytes in UTF-8; no other characters act as boundaries.
var terminals = []string{"。", "！", "？", "，", "；", "："}

// minSentenceChars is the smallest code-point count a sentence may have.
// Shorter candidates merge forward into the next one.
const minSentenceChars = 2

// Segmenter accumulates text fragments and emits sentences as soon as a
// terminal punctuation mark resolves one. The pending buffer always holds a
// valid prefix of UTF-8.
type Segmenter struct {
	buf      []byte
	capacity int
}

// New creates a segmenter with the given pending-buffer capacity in bytes.
func New(capacity int) *Segmenter {
	return &Segmenter{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a fragment to the pending buffer. If the fragment does not
// fit, it is truncated at a code-point boundary and the number of dropped
// bytes is returned.
func (s *Segmenter) Append(fragment string) int {
	room := s.capacity - len(s.buf)
	if room <= 0 {
		log.Warn("segment buffer full, dropping fragment", "dropped", len(fragment))
		return len(fragment)
	}

	dropped := 0
	if len(fragment) > room {
		cut := room
		for cut > 0 && !utf8.RuneStart(fragment[cut]) {
			cut--
		}
		dropped = len(fragment) - cut
		fragment = fragment[:cut]
		log.Warn("segment buffer overflow, truncating fragment", "kept", cut, "dropped", dropped)
	}

	s.buf = append(s.buf, fragment...)
	return dropped
}

// Next extracts the first complete sentence from the pending buffer. The
// consumed bytes are removed and the remainder shifts to the front. It
// returns false when no boundary has resolved yet.
func (s *Segmenter) Next() (string, bool) {
	end, ok := scan(s.buf)
	if !ok {
		return "", false
	}

	sentence := string(s.buf[:end])
	n := copy(s.buf, s.buf[end:])
	s.buf = s.buf[:n]

	log.Debug("sentence extracted", "bytes", end, "remaining", n)
	return sentence, true
}

// Flush returns whatever text is still pending as a final sentence. A
// remainder shorter than two code points is discarded.
func (s *Segmenter) Flush() (string, bool) {
	if len(s.buf) == 0 {
		return "", false
	}

	if utf8.RuneCount(s.buf) < minSentenceChars {
		log.Debug("discarding short remainder", "bytes", len(s.buf))
		s.buf = s.buf[:0]
		return "", false
	}

	sentence := string(s.buf)
	s.buf = s.buf[:0]
	return sentence, true
}

// Len returns the number of pending bytes.
func (s *Segmenter) Len() int {
	return len(s.buf)
}

// Reset empties the pending buffer.
func (s *Segmenter) Reset() {
	s.buf = s.buf[:0]
}

// scan finds the end offset (including the punctuation mark) of the first
// well-formed sentence in buf. A candidate with fewer than two code points
// does not terminate a sentence; the scan continues past its punctuation
// rather than restarting, so short artifacts merge into the next candidate.
func scan(buf []byte) (int, bool) {
	pos := 0
	for pos < len(buf) {
		if n := terminalAt(buf[pos:]); n > 0 {
			end := pos + n
			if utf8.RuneCount(buf[:end]) < minSentenceChars {
				pos = end
				continue
			}
			return end, true
		}
		pos += charLen(buf[pos])
	}
	return 0, false
}

// terminalAt reports the byte length of the terminal punctuation mark at
// the start of b, or 0 if none matches.
func terminalAt(b []byte) int {
	for _, t := range terminals {
		if len(b) >= len(t) && string(b[:len(t)]) == t {
			return len(t)
		}
	}
	return 0
}

// charLen reports the byte length of the UTF-8 character whose leading byte
// is b, so the scan never lands mid-code-point.
func charLen(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
