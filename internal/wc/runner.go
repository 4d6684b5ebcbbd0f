// Package wc counts a list of inputs and prints the report.
package wc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/ccwc/internal/counter"
	"github.com/ethpandaops/ccwc/internal/export"
	httpexport "github.com/ethpandaops/ccwc/internal/export/http"
	"github.com/ethpandaops/ccwc/internal/report"
	"github.com/ethpandaops/ccwc/internal/source"
	"github.com/ethpandaops/ccwc/internal/textenc"
)

// ErrInputFailed is returned by Run when at least one input could not be
// counted. The individual errors have already been written to stderr.
var ErrInputFailed = errors.New("one or more inputs could not be counted")

// stdinLabel names standard input in error messages.
const stdinLabel = "standard input"

// Options configures a Runner.
type Options struct {
	// Metrics selects what is counted and printed.
	Metrics counter.Metric
	// Encoding decodes text for word and character counting. nil selects
	// the locale's encoding.
	Encoding textenc.Encoding
	// BufferSize is the read chunk size.
	BufferSize int
	// Decompress is the source decompression mode.
	Decompress string
	// Jobs bounds the number of inputs counted concurrently.
	Jobs int
	// Total controls the totals row.
	Total report.TotalMode
	// HumanBytes prints the bytes column with IEC units.
	HumanBytes bool
	// Push receives a record per counted input. May be nil.
	Push *httpexport.Publisher
}

// Runner counts inputs.
type Runner struct {
	log     logrus.FieldLogger
	opts    Options
	metrics *export.Metrics
}

// New creates a Runner. metrics may be nil.
func New(log logrus.FieldLogger, opts Options, metrics *export.Metrics) *Runner {
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}

	if opts.Total == "" {
		opts.Total = report.TotalAuto
	}

	if opts.Encoding == nil {
		opts.Encoding = textenc.Default()
	}

	return &Runner{
		log:     log.WithField("component", "wc"),
		opts:    opts,
		metrics: metrics,
	}
}

type result struct {
	name   string
	totals counter.Totals
	err    error
}

// Run counts every input and writes the report to stdout. An empty input
// list reads standard input. Per-input failures are written to stderr and
// do not stop the remaining inputs.
func (r *Runner) Run(
	ctx context.Context,
	inputs []string,
	stdout io.Writer,
	stderr io.Writer,
) error {
	if r.opts.Metrics&counter.AllMetrics == counter.NoMetrics {
		return counter.ErrNoMetric
	}

	if len(inputs) == 0 {
		inputs = []string{source.Stdin}
	}

	var results []result

	if r.opts.Total == report.TotalOnly {
		results = r.countShared(ctx, inputs)
	} else {
		results = r.countEach(ctx, inputs)
	}

	failed := false
	rows := make([]report.Row, 0, len(results)+1)
	total := counter.Totals{}

	for _, res := range results {
		if res.err != nil {
			failed = true

			fmt.Fprintf(stderr, "ccwc: %v\n", res.err)

			continue
		}

		total.Add(res.totals)

		if r.opts.Total.ShowRows() {
			rows = append(rows, report.Row{
				Name:   source.DisplayName(res.name),
				Totals: res.totals,
			})
		}
	}

	if r.opts.Total.ShowTotal(len(inputs)) {
		name := report.TotalLabel
		if r.opts.Total == report.TotalOnly {
			name = ""
		}

		rows = append(rows, report.Row{Name: name, Totals: total})
	}

	f := report.Formatter{Metrics: r.opts.Metrics, HumanBytes: r.opts.HumanBytes}
	if err := f.Write(stdout, rows); err != nil {
		return err
	}

	if failed {
		return ErrInputFailed
	}

	return nil
}

// countEach counts every input with its own Counter, keeping per-input
// results in input order.
func (r *Runner) countEach(ctx context.Context, inputs []string) []result {
	results := make([]result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Jobs)

	for _, group := range schedule(inputs) {
		g.Go(func() error {
			for _, i := range group {
				name := inputs[i]

				c := r.newCounter()
				start := time.Now()

				err := r.count(gctx, c, name)
				totals := c.Totals()
				took := time.Since(start)

				r.metrics.ObserveInput(r.opts.Metrics, totals, took, err)
				r.publish(ctx, name, totals, took, err)

				results[i] = result{name: name, totals: totals, err: err}
			}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// countShared counts every input concurrently into one Counter. Only the
// combined totals are known; the returned slice carries them in a single
// result followed by any per-input failures.
func (r *Runner) countShared(ctx context.Context, inputs []string) []result {
	shared := r.newCounter()
	errs := make([]error, len(inputs))
	began := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Jobs)

	for _, group := range schedule(inputs) {
		g.Go(func() error {
			for _, i := range group {
				start := time.Now()

				errs[i] = r.count(gctx, shared, inputs[i])
				took := time.Since(start)

				r.metrics.ObserveResult(took, errs[i])

				if errs[i] != nil {
					r.publish(ctx, inputs[i], counter.Totals{}, took, errs[i])
				}
			}

			return nil
		})
	}

	_ = g.Wait()

	totals := shared.Totals()
	r.metrics.AddTotals(r.opts.Metrics, totals)
	r.publish(ctx, report.TotalLabel, totals, time.Since(began), nil)

	results := []result{{totals: totals}}

	for i, err := range errs {
		if err != nil {
			results = append(results, result{name: inputs[i], err: err})
		}
	}

	return results
}

// schedule groups input indexes into units of concurrent work. Every
// occurrence of standard input lands in one unit, in input order, so it
// is drained once and later occurrences read EOF. Other inputs get a unit
// each.
func schedule(inputs []string) [][]int {
	groups := make([][]int, 0, len(inputs))
	stdin := -1

	for i, name := range inputs {
		if !isStdin(name) {
			groups = append(groups, []int{i})

			continue
		}

		if stdin >= 0 {
			groups[stdin] = append(groups[stdin], i)

			continue
		}

		stdin = len(groups)
		groups = append(groups, []int{i})
	}

	return groups
}

func isStdin(name string) bool {
	return name == "" || name == source.Stdin
}

// publish pushes one record when a Publisher is wired.
func (r *Runner) publish(
	ctx context.Context,
	name string,
	totals counter.Totals,
	took time.Duration,
	err error,
) {
	if r.opts.Push == nil {
		return
	}

	input := name
	if isStdin(name) {
		input = stdinLabel
	}

	rec := httpexport.NewRecord(httpexport.SourceCLI, input, r.opts.Metrics, totals, took, err)
	rec.Encoding = r.opts.Encoding.Name()

	r.opts.Push.Publish(ctx, rec)
}

func (r *Runner) newCounter() *counter.Counter {
	c := counter.New(r.opts.BufferSize)
	c.Set(r.opts.Metrics, true)

	return c
}

// count opens one input and counts it into c.
func (r *Runner) count(ctx context.Context, c *counter.Counter, name string) error {
	label := name
	if isStdin(name) {
		label = stdinLabel
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	rc, err := source.Open(name, r.opts.Decompress)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := c.CountEncoded(rc, r.opts.Encoding); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	r.log.WithFields(logrus.Fields{
		"input":   label,
		"metrics": r.opts.Metrics.String(),
	}).Debug("Counted input")

	return nil
}
