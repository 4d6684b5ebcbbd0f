package textenc

import (
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// transformOutSize is the UTF-8 staging buffer used between the x/text
// transformer and rune extraction.
const transformOutSize = 4096

// transformDecoder adapts an x/text transformer, which produces UTF-8,
// into a rune decoder. Transformers are stateless with respect to their
// input: an incomplete trailing sequence is reported with ErrShortSrc and
// must be presented again, so it is kept in pending.
type transformDecoder struct {
	t       transform.Transformer
	pending []byte
	out     []byte
}

func newTransformDecoder(t transform.Transformer) *transformDecoder {
	return &transformDecoder{
		t:       t,
		pending: make([]byte, 0, utf8.UTFMax),
		out:     make([]byte, transformOutSize),
	}
}

func (d *transformDecoder) Decode(src []byte, dst []rune, final bool) int {
	in := src
	if len(d.pending) > 0 {
		d.pending = append(d.pending, src...)
		in = d.pending
	}

	n := 0

	for {
		nDst, nSrc, err := d.t.Transform(d.out, in, final)
		n += runesFromUTF8(dst[n:], d.out[:nDst])
		in = in[nSrc:]

		if err == transform.ErrShortDst && (nDst > 0 || nSrc > 0) {
			continue
		}

		if err != nil && err != transform.ErrShortSrc && len(in) > 0 {
			// x/text decoders replace ill-formed input themselves; any other
			// failure consumes one byte as a replacement character.
			dst[n] = utf8.RuneError
			n++
			in = in[1:]

			continue
		}

		break
	}

	// in may alias pending; append copies with memmove semantics.
	d.pending = append(d.pending[:0], in...)

	if final {
		for range d.pending {
			dst[n] = utf8.RuneError
			n++
		}

		d.pending = d.pending[:0]
		d.t.Reset()
	}

	return n
}

func runesFromUTF8(dst []rune, p []byte) int {
	n := 0

	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		dst[n] = r
		n++
		p = p[size:]
	}

	return n
}

type asciiDecoder struct{}

func (asciiDecoder) Decode(src []byte, dst []rune, _ bool) int {
	for i, b := range src {
		if b < utf8.RuneSelf {
			dst[i] = rune(b)
		} else {
			dst[i] = utf8.RuneError
		}
	}

	return len(src)
}
