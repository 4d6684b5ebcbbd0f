package http

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config configures pushing count records to an HTTP sink such as a
// Vector http_server source.
//
// A CLI run produces one record per input and exits, and Shutdown flushes
// whatever is queued, so the defaults favour small batches sent promptly
// over throughput.
type Config struct {
	// Enabled turns pushing on.
	Enabled bool `yaml:"enabled"`

	// Address is the http or https URL records are posted to.
	Address string `yaml:"address"`

	// Headers are added to every request, e.g. an Authorization token.
	Headers map[string]string `yaml:"headers"`

	// Compression is the request body encoding
	// (none, gzip, zstd, zlib, snappy). Defaults to gzip.
	Compression string `yaml:"compression"`

	// BatchSize caps the records sent in one request. Defaults to 100.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout is how long a partial batch waits before it is sent.
	// Defaults to 1s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout bounds one request. Defaults to 10s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize caps queued records; beyond it records are dropped.
	// Defaults to 10000.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of concurrent senders. Defaults to 1.
	Workers int `yaml:"workers"`

	// KeepAlive reuses connections between requests. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`

	// Instance labels every record. Defaults to the hostname.
	Instance string `yaml:"instance"`
}

// DefaultConfig returns a Config with push disabled and defaults for a
// short-lived CLI run.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionGzip,
		BatchSize:     100,
		BatchTimeout:  time.Second,
		ExportTimeout: 10 * time.Second,
		MaxQueueSize:  10000,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// Validate checks an enabled configuration. A disabled one is always
// valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("push.address is required when enabled")
	}

	u, err := url.Parse(c.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("push.address must be an http or https URL: %q", c.Address)
	}

	switch c.Compression {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
	default:
		return fmt.Errorf("invalid push.compression: %q", c.Compression)
	}

	if c.BatchSize < 0 || c.MaxQueueSize < 0 || c.Workers < 0 {
		return errors.New("push.batch_size, push.max_queue_size and push.workers must not be negative")
	}

	if c.BatchTimeout < 0 || c.ExportTimeout < 0 {
		return errors.New("push.batch_timeout and push.export_timeout must not be negative")
	}

	if c.BatchSize > 0 && c.MaxQueueSize > 0 && c.BatchSize > c.MaxQueueSize {
		return errors.New("push.batch_size cannot be greater than push.max_queue_size")
	}

	return nil
}

// ApplyDefaults fills unset fields from DefaultConfig. An unset Instance
// takes the hostname.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.BatchTimeout == 0 {
		c.BatchTimeout = defaults.BatchTimeout
	}

	if c.ExportTimeout == 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}

	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}

	if c.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Instance = host
		}
	}
}

// IsKeepAlive reports whether connections are reused.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}
