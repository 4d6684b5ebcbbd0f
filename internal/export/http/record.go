package http

import (
	"time"

	"github.com/ethpandaops/ccwc/internal/counter"
)

// Record sources.
const (
	SourceCLI    = "cli"
	SourceServer = "server"
)

// Record is one counted input as pushed to the sink. Only enabled
// metrics are present.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Instance   string    `json:"instance,omitempty"`
	Source     string    `json:"source"`
	Input      string    `json:"input,omitempty"`
	Encoding   string    `json:"encoding,omitempty"`
	Lines      *uint64   `json:"lines,omitempty"`
	Words      *uint64   `json:"words,omitempty"`
	Chars      *uint64   `json:"chars,omitempty"`
	Bytes      *uint64   `json:"bytes,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// NewRecord builds a Record. Counts are omitted when err is set.
func NewRecord(
	source string,
	input string,
	enabled counter.Metric,
	totals counter.Totals,
	took time.Duration,
	err error,
) *Record {
	rec := &Record{
		Timestamp:  time.Now().UTC(),
		Source:     source,
		Input:      input,
		DurationMs: float64(took.Microseconds()) / 1000,
	}

	if err != nil {
		rec.Error = err.Error()

		return rec
	}

	if enabled.Has(counter.Lines) {
		rec.Lines = &totals.Lines
	}

	if enabled.Has(counter.Words) {
		rec.Words = &totals.Words
	}

	if enabled.Has(counter.Chars) {
		rec.Chars = &totals.Chars
	}

	if enabled.Has(counter.Bytes) {
		rec.Bytes = &totals.Bytes
	}

	return rec
}
