package wc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/ccwc/internal/counter"
	"github.com/ethpandaops/ccwc/internal/export"
	httpexport "github.com/ethpandaops/ccwc/internal/export/http"
	"github.com/ethpandaops/ccwc/internal/report"
	"github.com/ethpandaops/ccwc/internal/source"
	"github.com/ethpandaops/ccwc/internal/textenc"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func run(t *testing.T, opts Options, inputs ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	r := New(testLog(), opts, export.NewMetrics(testLog()))
	err := r.Run(context.Background(), inputs, &stdout, &stderr)

	return stdout.String(), stderr.String(), err
}

func defaultOptions() Options {
	return Options{
		Metrics:    counter.Lines | counter.Words | counter.Bytes,
		Encoding:   textenc.UTF8,
		BufferSize: 16,
		Jobs:       2,
	}
}

func TestRun_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello world\r\nsecond line\n")

	stdout, stderr, err := run(t, defaultOptions(), path)
	require.NoError(t, err)

	assert.Empty(t, stderr)
	assert.Equal(t, fmt.Sprintf(" 2  4 25 %s\n", path), stdout)
}

func TestRun_MultipleFilesWithTotal(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "one two three\n")
	b := writeFile(t, dir, "b.txt", "four\nfive\n")

	opts := defaultOptions()
	opts.Metrics = counter.Lines | counter.Words

	stdout, _, err := run(t, opts, a, b)
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"1 3 " + a,
		"2 2 " + b,
		"3 5 total",
		"",
	}, "\n"), stdout)
}

func TestRun_TotalModes(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha\n")
	b := writeFile(t, dir, "b.txt", "beta gamma\n")

	tests := []struct {
		mode     report.TotalMode
		inputs   []string
		expected string
	}{
		{mode: report.TotalNever, inputs: []string{a, b}, expected: "1 " + a + "\n1 " + b + "\n"},
		{mode: report.TotalAlways, inputs: []string{a}, expected: "1 " + a + "\n1 total\n"},
		{mode: report.TotalOnly, inputs: []string{a, b}, expected: "2\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			opts := defaultOptions()
			opts.Metrics = counter.Lines
			opts.Total = tt.mode

			stdout, _, err := run(t, opts, tt.inputs...)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, stdout)
		})
	}
}

func TestRun_TotalOnlyMatchesPerFileSum(t *testing.T) {
	dir := t.TempDir()

	inputs := make([]string, 12)
	for i := range inputs {
		content := strings.Repeat(fmt.Sprintf("line %d with wörds\r\n", i), 10+i)
		inputs[i] = writeFile(t, dir, fmt.Sprintf("f%02d.txt", i), content)
	}

	opts := defaultOptions()
	opts.Metrics = counter.AllMetrics
	opts.Jobs = 4
	opts.Total = report.TotalAlways

	perFile, _, err := run(t, opts, inputs...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(perFile, "\n"), "\n")
	totalLine := strings.TrimSuffix(lines[len(lines)-1], " total")

	opts.Total = report.TotalOnly

	only, _, err := run(t, opts, inputs...)
	require.NoError(t, err)

	assert.Equal(t, strings.Fields(totalLine), strings.Fields(only))
}

func TestRun_MissingFileReportedAndOthersCounted(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "present\n")
	missing := filepath.Join(dir, "missing.txt")

	opts := defaultOptions()
	opts.Metrics = counter.Bytes

	stdout, stderr, err := run(t, opts, a, missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputFailed)

	assert.Contains(t, stderr, "ccwc: ")
	assert.Contains(t, stderr, "missing.txt")
	assert.Equal(t, "8 "+a+"\n8 total\n", stdout)
}

func TestRun_NoMetric(t *testing.T) {
	opts := defaultOptions()
	opts.Metrics = counter.NoMetrics

	_, _, err := run(t, opts)
	assert.ErrorIs(t, err, counter.ErrNoMetric)
}

func TestRun_Decompress(t *testing.T) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte("compressed words here\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := writeFile(t, t.TempDir(), "in.gz", buf.String())

	opts := defaultOptions()
	opts.Decompress = source.DecompressAuto

	stdout, _, err := run(t, opts, path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(" 1  3 22 %s\n", path), stdout)
}

func TestRun_HumanBytes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "big.txt", strings.Repeat("x", 3*1024))

	opts := defaultOptions()
	opts.Metrics = counter.Bytes
	opts.HumanBytes = true

	stdout, _, err := run(t, opts, path)
	require.NoError(t, err)
	assert.Equal(t, "3.0 KiB "+path+"\n", stdout)
}

func TestRun_CanceledContext(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", "text\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer

	r := New(testLog(), defaultOptions(), nil)
	err := r.Run(ctx, []string{path}, &stdout, &stderr)

	assert.ErrorIs(t, err, ErrInputFailed)
	assert.Contains(t, stderr.String(), context.Canceled.Error())
}

func TestRun_PushesRecords(t *testing.T) {
	var (
		mu      sync.Mutex
		records []map[string]any
	)

	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()

		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			var rec map[string]any
			if assert.NoError(t, json.Unmarshal([]byte(line), &rec)) {
				records = append(records, rec)
			}
		}
	}))
	defer sink.Close()

	pub, err := httpexport.NewPublisher(testLog(), httpexport.Config{
		Enabled:      true,
		Address:      sink.URL,
		Compression:  httpexport.CompressionNone,
		BatchTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	pub.Start(ctx)

	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "one two\n")
	missing := filepath.Join(dir, "missing.txt")

	opts := defaultOptions()
	opts.Push = pub

	_, _, err = run(t, opts, a, missing)
	require.ErrorIs(t, err, ErrInputFailed)
	require.NoError(t, pub.Shutdown(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(records) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	byInput := map[string]map[string]any{}
	for _, rec := range records {
		byInput[rec["input"].(string)] = rec
	}

	require.Contains(t, byInput, a)
	assert.Equal(t, 2.0, byInput[a]["words"])
	assert.Equal(t, "utf-8", byInput[a]["encoding"])
	assert.Equal(t, httpexport.SourceCLI, byInput[a]["source"])

	require.Contains(t, byInput, missing)
	assert.NotEmpty(t, byInput[missing]["error"])
}

func TestSchedule(t *testing.T) {
	groups := schedule([]string{"a", source.Stdin, "b", source.Stdin, "c"})

	assert.Equal(t, [][]int{{0}, {1, 3}, {2}, {4}}, groups)
}

// withStdin replaces os.Stdin with a pipe carrying content.
func withStdin(t *testing.T, content string) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	_, err = w.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	orig := os.Stdin
	os.Stdin = r

	t.Cleanup(func() {
		os.Stdin = orig
		_ = r.Close()
	})
}

func TestRun_StdinRepeatedIsDrainedOnce(t *testing.T) {
	tests := []struct {
		mode     report.TotalMode
		expected string
	}{
		{mode: report.TotalAuto, expected: "2 4\n0 0\n2 4 total\n"},
		{mode: report.TotalOnly, expected: "2 4\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			withStdin(t, "one two\r\nthree four\n")

			opts := defaultOptions()
			opts.Metrics = counter.Lines | counter.Words
			opts.Total = tt.mode
			opts.BufferSize = 3

			stdout, stderr, err := run(t, opts, source.Stdin, source.Stdin)
			require.NoError(t, err)

			assert.Empty(t, stderr)
			assert.Equal(t, tt.expected, stdout)
		})
	}
}
