// Package config loads ccwc's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/ccwc/internal/counter"
	httpexport "github.com/ethpandaops/ccwc/internal/export/http"
	"github.com/ethpandaops/ccwc/internal/report"
	"github.com/ethpandaops/ccwc/internal/server"
	"github.com/ethpandaops/ccwc/internal/source"
	"github.com/ethpandaops/ccwc/internal/textenc"
)

// Config is the top-level configuration shared by the CLI and the
// counting service.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Defaults to warn so count output stays clean.
	LogLevel string `yaml:"log_level"`

	// Metrics lists the counts to report (lines, words, chars, bytes).
	// Defaults to lines, words and bytes.
	Metrics []string `yaml:"metrics"`

	// Encoding names the text encoding used for words and characters.
	// Empty selects the locale's encoding.
	Encoding string `yaml:"encoding"`

	// BufferSize is the read chunk size in bytes. Defaults to 1024.
	BufferSize int `yaml:"buffer_size"`

	// Decompress is the input decompression mode
	// (none, auto, gzip, zlib, zstd, snappy). Defaults to none.
	Decompress string `yaml:"decompress"`

	// Jobs bounds how many inputs are counted concurrently.
	// Defaults to GOMAXPROCS.
	Jobs int `yaml:"jobs"`

	// Total controls the totals row (auto, always, only, never).
	Total string `yaml:"total"`

	// HumanReadable prints byte counts with IEC units.
	HumanReadable bool `yaml:"human_readable"`

	// MetricsTextfile, when set, receives the run's Prometheus metrics
	// after counting finishes.
	MetricsTextfile string `yaml:"metrics_textfile"`

	// Server configures `ccwc serve`.
	Server server.Config `yaml:"server"`

	// Push configures pushing count records to an HTTP sink.
	Push httpexport.Config `yaml:"push"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "warn",
		Metrics:    []string{"lines", "words", "bytes"},
		BufferSize: counter.DefaultBufferSize,
		Decompress: source.DecompressNone,
		Jobs:       runtime.GOMAXPROCS(0),
		Total:      string(report.TotalAuto),
		Server:     server.DefaultConfig(),
		Push:       httpexport.DefaultConfig(),
	}
}

// LoadConfig reads and parses a YAML configuration file. An empty path
// returns the validated defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := c.MetricSet(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if _, err := c.TextEncoding(); err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	if c.BufferSize <= 0 {
		return errors.New("buffer_size must be positive")
	}

	if c.Jobs <= 0 {
		return errors.New("jobs must be positive")
	}

	if _, err := report.ParseTotalMode(c.Total); err != nil {
		return fmt.Errorf("total: %w", err)
	}

	if err := source.ValidateDecompression(c.Decompress); err != nil {
		return fmt.Errorf("decompress: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}

	if err := c.Push.Validate(); err != nil {
		return err
	}

	return nil
}

// MetricSet parses Metrics. An empty list yields no metrics.
func (c *Config) MetricSet() (counter.Metric, error) {
	return counter.ParseMetrics(c.Metrics)
}

// TextEncoding resolves Encoding. An empty name yields nil, which the
// counter resolves to the locale's encoding.
func (c *Config) TextEncoding() (textenc.Encoding, error) {
	if c.Encoding == "" {
		return nil, nil
	}

	return textenc.Lookup(c.Encoding)
}

// TotalMode parses Total.
func (c *Config) TotalMode() (report.TotalMode, error) {
	return report.ParseTotalMode(c.Total)
}
