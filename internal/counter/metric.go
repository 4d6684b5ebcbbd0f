package counter

import (
	"errors"
	"fmt"
	"strings"
)

// Metric is a set of counting modes.
type Metric uint8

const (
	// Bytes counts raw bytes.
	Bytes Metric = 1 << iota
	// Lines counts line terminators (CR, LF or CRLF).
	Lines
	// Words counts maximal runs of non-whitespace characters.
	Words
	// Chars counts decoded characters.
	Chars

	// NoMetrics is the empty set.
	NoMetrics Metric = 0
	// AllMetrics enables every counting mode.
	AllMetrics = Bytes | Lines | Words | Chars
)

// ErrUnknownMetric is returned when a metric name cannot be parsed.
var ErrUnknownMetric = errors.New("unknown metric")

var metricNames = []struct {
	metric Metric
	name   string
}{
	{Lines, "lines"},
	{Words, "words"},
	{Chars, "chars"},
	{Bytes, "bytes"},
}

// Has reports whether every mode in o is also in m.
func (m Metric) Has(o Metric) bool {
	return o != NoMetrics && m&o == o
}

// Names returns the enabled modes in display order: lines, words, chars,
// bytes.
func (m Metric) Names() []string {
	names := make([]string, 0, len(metricNames))

	for _, mn := range metricNames {
		if m.Has(mn.metric) {
			names = append(names, mn.name)
		}
	}

	return names
}

func (m Metric) String() string {
	if m&AllMetrics == NoMetrics {
		return "none"
	}

	return strings.Join(m.Names(), ",")
}

// ParseMetric parses a single metric name. Both long names and the
// single-letter flag names of wc (c, l, w, m) are accepted.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bytes", "byte", "c":
		return Bytes, nil
	case "lines", "line", "l":
		return Lines, nil
	case "words", "word", "w":
		return Words, nil
	case "chars", "char", "characters", "m":
		return Chars, nil
	default:
		return NoMetrics, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// ParseMetrics parses a list of metric names. Each entry may itself be a
// comma-separated list.
func ParseMetrics(list []string) (Metric, error) {
	var m Metric

	for _, entry := range list {
		for _, name := range strings.Split(entry, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}

			metric, err := ParseMetric(name)
			if err != nil {
				return NoMetrics, err
			}

			m |= metric
		}
	}

	return m, nil
}
