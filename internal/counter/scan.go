package counter

import (
	"bytes"

	"github.com/ethpandaops/ccwc/internal/textenc"
)

// scratch holds the buffers rented by one Count call.
type scratch struct {
	buf   []byte
	runes []rune
}

// lineState tracks whether the previous byte or character was a CR that
// has already been counted, so that a following LF is absorbed. It carries
// across chunk boundaries.
type lineState struct {
	sawCR bool
}

// step advances the state machine by one character and reports whether it
// ends a line.
func (l *lineState) step(r rune) bool {
	switch r {
	case '\r':
		l.sawCR = true

		return true
	case '\n':
		counted := !l.sawCR
		l.sawCR = false

		return counted
	default:
		l.sawCR = false

		return false
	}
}

// scanBytes runs the state machine over raw bytes and returns the number
// of line ends.
func (l *lineState) scanBytes(p []byte) uint64 {
	if len(p) == 0 {
		return 0
	}

	// Without CR in the chunk every LF ends a line, except one directly
	// following a CR from the previous chunk.
	if bytes.IndexByte(p, '\r') < 0 {
		n := uint64(bytes.Count(p, []byte{'\n'}))
		if l.sawCR && p[0] == '\n' {
			n--
		}

		l.sawCR = false

		return n
	}

	var n uint64

	for _, b := range p {
		if l.step(rune(b)) {
			n++
		}
	}

	return n
}

// scan is the per-call state of one Count invocation.
type scan struct {
	c *Counter

	countBytes bool
	byteLines  bool
	textLines  bool
	words      bool
	chars      bool

	lines   lineState
	inWord  bool
	dec     textenc.Decoder
	isSpace func(rune) bool
	runes   []rune
}

func newScan(c *Counter, metrics Metric, enc textenc.Encoding, sc *scratch) *scan {
	s := &scan{
		c:          c,
		countBytes: metrics.Has(Bytes),
		words:      metrics.Has(Words),
		chars:      metrics.Has(Chars),
	}

	decode := s.words || s.chars
	if metrics.Has(Lines) {
		// CR and LF can only be found in raw bytes when the encoding
		// represents them as single ASCII bytes.
		if decode || !enc.ASCIICompatible() {
			decode = true
			s.textLines = true
		} else {
			s.byteLines = true
		}
	}

	if decode {
		need := enc.MaxCharsFor(len(sc.buf))
		if cap(sc.runes) < need {
			sc.runes = make([]rune, need)
		}

		s.runes = sc.runes[:need]
		s.dec = enc.NewDecoder()
		s.isSpace = enc.IsSpace
	}

	return s
}

// chunk processes one block of bytes returned by a single read.
func (s *scan) chunk(p []byte) {
	if s.countBytes {
		s.c.bytes.Add(uint64(len(p)))
	}

	if s.byteLines {
		if n := s.lines.scanBytes(p); n > 0 {
			s.c.lines.Add(n)
		}
	}

	if s.dec != nil {
		n := s.dec.Decode(p, s.runes, false)
		s.text(s.runes[:n])
	}
}

// finish flushes the decoder and closes a word left open at end of stream.
func (s *scan) finish() {
	if s.dec != nil {
		n := s.dec.Decode(nil, s.runes, true)
		s.text(s.runes[:n])
	}

	if s.words && s.inWord {
		s.c.words.Add(1)
		s.inWord = false
	}
}

// text counts characters, words and lines over decoded runes in one pass.
func (s *scan) text(runes []rune) {
	if len(runes) == 0 {
		return
	}

	if s.chars {
		s.c.chars.Add(uint64(len(runes)))
	}

	if !s.words && !s.textLines {
		return
	}

	var lines, words uint64

	for _, r := range runes {
		if s.textLines && s.lines.step(r) {
			lines++
		}

		if !s.words {
			continue
		}

		if s.isSpace(r) {
			if s.inWord {
				words++
				s.inWord = false
			}
		} else {
			s.inWord = true
		}
	}

	if lines > 0 {
		s.c.lines.Add(lines)
	}

	if words > 0 {
		s.c.words.Add(words)
	}
}
