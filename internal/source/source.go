// Package source opens count inputs: standard input, files and
// compressed streams.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Decompression modes.
const (
	DecompressNone   = "none"
	DecompressAuto   = "auto"
	DecompressGzip   = "gzip"
	DecompressZlib   = "zlib"
	DecompressZstd   = "zstd"
	DecompressSnappy = "snappy"
)

// Stdin is the input name that selects standard input.
const Stdin = "-"

// ErrUnsupportedDecompression is returned for unknown decompression modes.
var ErrUnsupportedDecompression = errors.New("unsupported decompression")

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	snappyMagic = []byte{0xff, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}
)

// sniffSize is the number of leading bytes inspected in auto mode.
const sniffSize = 10

// ValidateDecompression checks that mode names a known decompression mode.
// The empty string is treated as none.
func ValidateDecompression(mode string) error {
	switch mode {
	case "", DecompressNone, DecompressAuto, DecompressGzip,
		DecompressZlib, DecompressZstd, DecompressSnappy:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDecompression, mode)
	}
}

// DisplayName returns the name an input is reported under. Standard input
// has no name.
func DisplayName(path string) string {
	if path == Stdin {
		return ""
	}

	return path
}

// Open opens the named input. "" and "-" select standard input, whose
// Close is a no-op. Without decompression the returned value exposes the
// underlying *os.File methods so callers can query its size.
func Open(path string, decompress string) (io.ReadCloser, error) {
	if err := ValidateDecompression(decompress); err != nil {
		return nil, err
	}

	var f *os.File

	if path == "" || path == Stdin {
		f = os.Stdin
	} else {
		opened, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		adviseSequential(opened)

		f = opened
	}

	var base io.ReadCloser = f
	if f == os.Stdin {
		base = stdin{File: f}
	}

	if decompress == "" || decompress == DecompressNone {
		return base, nil
	}

	rc, err := Wrap(base, decompress)
	if err != nil {
		_ = base.Close()

		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &chain{ReadCloser: rc, next: base}, nil
}

// Wrap returns a reader that decompresses r according to mode. Closing
// the returned reader releases decompressor state but does not close r.
func Wrap(r io.Reader, mode string) (io.ReadCloser, error) {
	switch mode {
	case "", DecompressNone:
		return io.NopCloser(r), nil
	case DecompressAuto:
		return wrapAuto(r)
	case DecompressGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}

		return zr, nil
	case DecompressZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zlib stream: %w", err)
		}

		return zr, nil
	case DecompressZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}

		return dec.IOReadCloser(), nil
	case DecompressSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDecompression, mode)
	}
}

// wrapAuto picks a decompressor from the stream's magic bytes and passes
// unrecognised streams through unchanged. zlib has no reliable magic and
// must be selected explicitly.
func wrapAuto(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sniffing compression: %w", err)
	}

	mode := Detect(head)
	if mode == DecompressNone {
		return io.NopCloser(br), nil
	}

	return Wrap(br, mode)
}

// Detect reports the decompression mode matching the leading bytes of a
// stream, or DecompressNone.
func Detect(head []byte) string {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return DecompressGzip
	case bytes.HasPrefix(head, zstdMagic):
		return DecompressZstd
	case bytes.HasPrefix(head, snappyMagic):
		return DecompressSnappy
	default:
		return DecompressNone
	}
}

// stdin keeps the *os.File methods of standard input but never closes it.
type stdin struct {
	*os.File
}

func (stdin) Close() error { return nil }

// chain closes a decompressor and then the stream beneath it.
type chain struct {
	io.ReadCloser
	next io.Closer
}

func (c *chain) Close() error {
	return errors.Join(c.ReadCloser.Close(), c.next.Close())
}
