// Package counter implements a streaming byte, line, word and character
// counter. Input is consumed in bounded chunks so that arbitrarily large
// streams are counted in constant memory.
package counter

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ethpandaops/ccwc/internal/textenc"
)

// DefaultBufferSize is the read chunk size used when none is configured.
const DefaultBufferSize = 1024

// maxConsecutiveEmptyReads bounds the number of (0, nil) reads tolerated
// from a misbehaving reader before giving up.
const maxConsecutiveEmptyReads = 100

var (
	// ErrInvalidConfiguration marks errors caused by counter settings.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNoMetric is returned by Count when no metric is enabled.
	ErrNoMetric = fmt.Errorf("%w: no metric enabled", ErrInvalidConfiguration)
)

// Totals is a point-in-time copy of a Counter's accumulators.
type Totals struct {
	Bytes uint64 `json:"bytes"`
	Lines uint64 `json:"lines"`
	Words uint64 `json:"words"`
	Chars uint64 `json:"chars"`
}

// Add sums o into t.
func (t *Totals) Add(o Totals) {
	t.Bytes += o.Bytes
	t.Lines += o.Lines
	t.Words += o.Words
	t.Chars += o.Chars
}

// Get returns the value of a single metric. m must name exactly one mode.
func (t Totals) Get(m Metric) uint64 {
	switch m {
	case Bytes:
		return t.Bytes
	case Lines:
		return t.Lines
	case Words:
		return t.Words
	case Chars:
		return t.Chars
	default:
		return 0
	}
}

// Counter accumulates counts over one or more streams.
//
// Accumulators are updated atomically, so Count may run concurrently on the
// same Counter over different streams; the totals then equal the sum of the
// standalone counts. Each Count call rents its own scratch buffers and keeps
// its own chunk-boundary state. Set and Reset must not be called while a
// Count is in flight. The zero value is usable and reads in
// DefaultBufferSize chunks.
type Counter struct {
	metrics    Metric
	bufferSize int
	scratch    sync.Pool

	bytes atomic.Uint64
	lines atomic.Uint64
	words atomic.Uint64
	chars atomic.Uint64
}

// New creates a Counter with no metric enabled. bufferSize is the read
// chunk size; values <= 0 select DefaultBufferSize.
func New(bufferSize int) *Counter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	c := &Counter{bufferSize: bufferSize}
	c.scratch.New = func() any {
		return &scratch{buf: make([]byte, bufferSize)}
	}

	return c
}

// rent takes a scratch buffer from the pool. A zero Counter has no pool
// constructor and falls back to DefaultBufferSize.
func (c *Counter) rent() *scratch {
	if sc, ok := c.scratch.Get().(*scratch); ok {
		return sc
	}

	size := c.bufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	return &scratch{buf: make([]byte, size)}
}

// Set enables or disables the given metrics.
func (c *Counter) Set(m Metric, enabled bool) {
	if enabled {
		c.metrics |= m & AllMetrics
	} else {
		c.metrics &^= m
	}
}

// Enabled reports whether every metric in m is enabled.
func (c *Counter) Enabled(m Metric) bool {
	return c.metrics.Has(m)
}

// Metrics returns the enabled metrics.
func (c *Counter) Metrics() Metric {
	return c.metrics
}

// BufferSize returns the read chunk size.
func (c *Counter) BufferSize() int {
	return c.bufferSize
}

// Reset zeroes all accumulators. Enabled metrics are kept.
func (c *Counter) Reset() {
	c.bytes.Store(0)
	c.lines.Store(0)
	c.words.Store(0)
	c.chars.Store(0)
}

// Bytes returns the byte count. Only meaningful when Bytes is enabled.
func (c *Counter) Bytes() uint64 { return c.bytes.Load() }

// Lines returns the line count. Only meaningful when Lines is enabled.
func (c *Counter) Lines() uint64 { return c.lines.Load() }

// Words returns the word count. Only meaningful when Words is enabled.
func (c *Counter) Words() uint64 { return c.words.Load() }

// Chars returns the character count. Only meaningful when Chars is enabled.
func (c *Counter) Chars() uint64 { return c.chars.Load() }

// Totals returns a copy of all four accumulators.
func (c *Counter) Totals() Totals {
	return Totals{
		Bytes: c.bytes.Load(),
		Lines: c.lines.Load(),
		Words: c.words.Load(),
		Chars: c.chars.Load(),
	}
}

// Count reads r to the end and adds its counts to the accumulators, using
// the locale's default encoding for word and character counting.
func (c *Counter) Count(r io.Reader) error {
	return c.CountEncoded(r, nil)
}

// CountEncoded reads r to the end and adds its counts to the accumulators.
// enc is used to decode text for word and character counting; nil selects
// the locale default.
//
// Read errors are returned unchanged. Counts for chunks consumed before the
// error remain in the accumulators. r is never closed.
//
// When only Bytes is enabled and r reports a reliable length, the length is
// used and r is not read.
func (c *Counter) CountEncoded(r io.Reader, enc textenc.Encoding) error {
	metrics := c.metrics
	if metrics&AllMetrics == NoMetrics {
		return ErrNoMetric
	}

	if metrics == Bytes {
		if n, ok := streamLength(r); ok {
			c.bytes.Add(n)

			return nil
		}
	}

	decodeText := metrics.Has(Words) || metrics.Has(Chars)
	if enc == nil && (decodeText || metrics.Has(Lines)) {
		enc = textenc.Default()
	}

	sc := c.rent()
	defer c.scratch.Put(sc)

	s := newScan(c, metrics, enc, sc)

	empty := 0

	for {
		n, err := r.Read(sc.buf)
		if n > 0 {
			empty = 0

			s.chunk(sc.buf[:n])
		} else if err == nil {
			empty++
			if empty >= maxConsecutiveEmptyReads {
				return io.ErrNoProgress
			}
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return err
		}
	}

	s.finish()

	return nil
}
