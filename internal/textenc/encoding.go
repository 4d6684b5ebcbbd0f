// Package textenc provides the text-encoding capability used for word and
// character counting: incremental decoders, output sizing and whitespace
// classification.
package textenc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
)

// ErrUnknownEncoding is returned by Lookup for names it cannot resolve.
var ErrUnknownEncoding = errors.New("unknown encoding")

// Encoding decodes byte streams into characters.
type Encoding interface {
	// Name returns the canonical lower-case name of the encoding.
	Name() string
	// MaxCharsFor returns the largest number of characters a single
	// Decode call can produce for byteCount input bytes, including any
	// partial sequence the decoder is holding from earlier calls.
	MaxCharsFor(byteCount int) int
	// NewDecoder returns a fresh decoder with no pending state.
	NewDecoder() Decoder
	// ASCIICompatible reports whether CR and LF are encoded as the single
	// bytes 0x0D and 0x0A and never appear inside other sequences.
	ASCIICompatible() bool
	// IsSpace reports whether r is whitespace.
	IsSpace(r rune) bool
}

// Decoder is a stateful incremental decoder. Multi-byte sequences split
// across calls are retained until the rest of the sequence arrives.
type Decoder interface {
	// Decode decodes src into dst and returns the number of runes written.
	// dst must hold at least MaxCharsFor(len(src)) runes. When final is
	// true any incomplete trailing sequence is flushed as U+FFFD and the
	// decoder returns to its initial state. Ill-formed input is replaced
	// with U+FFFD and never reported as an error.
	Decode(src []byte, dst []rune, final bool) int
}

// IsSpace is the whitespace classification shared by all encodings: the
// Unicode White_Space property.
func IsSpace(r rune) bool {
	return unicode.IsSpace(r)
}

var (
	// UTF8 decodes UTF-8. A byte order mark is counted as a character.
	UTF8 Encoding = newTransformEncoding("utf-8", xunicode.UTF8, true, 1, 3)

	// ASCII decodes 7-bit ASCII; bytes >= 0x80 decode to U+FFFD.
	ASCII Encoding = asciiEncoding{}

	// UTF16LE decodes little-endian UTF-16 without BOM handling.
	UTF16LE Encoding = newTransformEncoding(
		"utf-16le", xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM), false, 2, 3,
	)

	// UTF16BE decodes big-endian UTF-16 without BOM handling.
	UTF16BE Encoding = newTransformEncoding(
		"utf-16be", xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM), false, 2, 3,
	)

	// UTF16 decodes UTF-16, honouring a leading byte order mark and
	// defaulting to little-endian.
	UTF16 Encoding = newTransformEncoding(
		"utf-16", xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM), false, 2, 3,
	)

	// Latin1 decodes ISO-8859-1.
	Latin1 Encoding = newTransformEncoding("iso-8859-1", charmap.ISO8859_1, true, 1, 0)
)

// aliases maps lower-case names to encodings resolved without consulting
// the WHATWG index, which folds latin1 into windows-1252.
var aliases = map[string]Encoding{
	"utf-8":          UTF8,
	"utf8":           UTF8,
	"ascii":          ASCII,
	"us-ascii":       ASCII,
	"ansi_x3.4-1968": ASCII,
	"646":            ASCII,
	"utf-16":         UTF16,
	"utf16":          UTF16,
	"utf-16le":       UTF16LE,
	"utf16le":        UTF16LE,
	"utf-16be":       UTF16BE,
	"utf16be":        UTF16BE,
	"iso-8859-1":     Latin1,
	"iso8859-1":      Latin1,
	"iso88591":       Latin1,
	"latin1":         Latin1,
	"latin-1":        Latin1,
	"cp437":          newTransformEncoding("ibm437", charmap.CodePage437, true, 1, 0),
	"ibm437":         newTransformEncoding("ibm437", charmap.CodePage437, true, 1, 0),
}

// Lookup resolves an encoding by name, case-insensitively. Names outside
// the built-in table are resolved through the WHATWG encoding index.
func Lookup(name string) (Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownEncoding)
	}

	if e, ok := aliases[key]; ok {
		return e, nil
	}

	enc, err := htmlindex.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}

	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = key
	}

	if e, ok := aliases[canonical]; ok {
		return e, nil
	}

	return newTransformEncoding(canonical, enc, true, 1, 3), nil
}

// Default returns the encoding named by the process locale.
func Default() Encoding {
	return FromLocale(os.Getenv)
}

// FromLocale derives an encoding from the first non-empty of LC_ALL,
// LC_CTYPE and LANG. The C and POSIX locales map to ASCII. An unset
// locale or an unknown codeset maps to UTF-8.
func FromLocale(getenv func(string) string) Encoding {
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if v := getenv(key); v != "" {
			return fromLocaleName(v)
		}
	}

	return UTF8
}

// fromLocaleName parses language[_territory][.codeset][@modifier].
func fromLocaleName(locale string) Encoding {
	if locale == "C" || locale == "POSIX" {
		return ASCII
	}

	if i := strings.IndexByte(locale, '@'); i >= 0 {
		locale = locale[:i]
	}

	i := strings.IndexByte(locale, '.')
	if i < 0 {
		return UTF8
	}

	e, err := Lookup(locale[i+1:])
	if err != nil {
		return UTF8
	}

	return e
}

type transformEncoding struct {
	name            string
	enc             encoding.Encoding
	asciiCompatible bool
	minUnitBytes    int
	maxPending      int
}

func newTransformEncoding(
	name string,
	enc encoding.Encoding,
	asciiCompatible bool,
	minUnitBytes int,
	maxPending int,
) *transformEncoding {
	return &transformEncoding{
		name:            name,
		enc:             enc,
		asciiCompatible: asciiCompatible,
		minUnitBytes:    minUnitBytes,
		maxPending:      maxPending,
	}
}

func (e *transformEncoding) Name() string { return e.name }

func (e *transformEncoding) MaxCharsFor(byteCount int) int {
	if byteCount < 0 {
		byteCount = 0
	}

	// Pending bytes from a previous call can each flush as U+FFFD.
	return byteCount/e.minUnitBytes + e.maxPending + 1
}

func (e *transformEncoding) NewDecoder() Decoder {
	return newTransformDecoder(e.enc.NewDecoder())
}

func (e *transformEncoding) ASCIICompatible() bool { return e.asciiCompatible }

func (e *transformEncoding) IsSpace(r rune) bool { return IsSpace(r) }

func (e *transformEncoding) String() string { return e.name }

type asciiEncoding struct{}

func (asciiEncoding) Name() string { return "us-ascii" }

func (asciiEncoding) MaxCharsFor(byteCount int) int {
	if byteCount < 0 {
		return 0
	}

	return byteCount
}

func (asciiEncoding) NewDecoder() Decoder { return asciiDecoder{} }

func (asciiEncoding) ASCIICompatible() bool { return true }

func (asciiEncoding) IsSpace(r rune) bool { return IsSpace(r) }

func (asciiEncoding) String() string { return "us-ascii" }
