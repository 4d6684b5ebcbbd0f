// Package report formats count results as aligned text columns.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ethpandaops/ccwc/internal/counter"
)

// TotalMode controls when a totals row is printed.
type TotalMode string

// Total modes, matching GNU wc's --total.
const (
	TotalAuto   TotalMode = "auto"
	TotalAlways TotalMode = "always"
	TotalOnly   TotalMode = "only"
	TotalNever  TotalMode = "never"
)

// TotalLabel names the totals row.
const TotalLabel = "total"

// ErrUnknownTotalMode is returned by ParseTotalMode.
var ErrUnknownTotalMode = errors.New("unknown total mode")

// columnOrder is the fixed display order of the count columns.
var columnOrder = []counter.Metric{counter.Lines, counter.Words, counter.Chars, counter.Bytes}

// ParseTotalMode parses a --total value. The empty string means auto.
func ParseTotalMode(s string) (TotalMode, error) {
	switch TotalMode(s) {
	case "", TotalAuto:
		return TotalAuto, nil
	case TotalAlways, TotalOnly, TotalNever:
		return TotalMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTotalMode, s)
	}
}

// ShowRows reports whether per-input rows are printed.
func (m TotalMode) ShowRows() bool {
	return m != TotalOnly
}

// ShowTotal reports whether a totals row is printed for the given number
// of inputs.
func (m TotalMode) ShowTotal(inputs int) bool {
	switch m {
	case TotalAlways, TotalOnly:
		return true
	case TotalNever:
		return false
	default:
		return inputs > 1
	}
}

// Row is one line of output.
type Row struct {
	Name   string
	Totals counter.Totals
}

// Formatter renders rows.
type Formatter struct {
	// Metrics selects the printed columns.
	Metrics counter.Metric
	// HumanBytes prints the bytes column with IEC units.
	HumanBytes bool
}

// Format renders rows, right-aligning every column to a common width.
// A single row with a single column is printed without padding.
func (f Formatter) Format(rows []Row) []string {
	cells := make([][]string, len(rows))
	width := 0

	for i, row := range rows {
		cells[i] = f.cells(row.Totals)

		for _, cell := range cells[i] {
			width = max(width, len(cell))
		}
	}

	if len(rows) == 1 && len(cells[0]) == 1 {
		width = 0
	}

	lines := make([]string, len(rows))

	for i, row := range rows {
		var b strings.Builder

		for j, cell := range cells[i] {
			if j > 0 {
				b.WriteByte(' ')
			}

			if pad := width - len(cell); pad > 0 {
				b.WriteString(strings.Repeat(" ", pad))
			}

			b.WriteString(cell)
		}

		if row.Name != "" {
			b.WriteByte(' ')
			b.WriteString(row.Name)
		}

		lines[i] = b.String()
	}

	return lines
}

// Write formats rows and writes them to w, one per line.
func (f Formatter) Write(w io.Writer, rows []Row) error {
	for _, line := range f.Format(rows) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	return nil
}

func (f Formatter) cells(t counter.Totals) []string {
	cells := make([]string, 0, len(columnOrder))

	for _, m := range columnOrder {
		if !f.Metrics.Has(m) {
			continue
		}

		if m == counter.Bytes && f.HumanBytes {
			cells = append(cells, humanize.IBytes(t.Bytes))

			continue
		}

		cells = append(cells, strconv.FormatUint(t.Get(m), 10))
	}

	return cells
}
