package server

import (
	"errors"
	"time"
)

// Config configures the HTTP counting service.
type Config struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`

	// MaxBodySize is the largest request body accepted by /v1/count, in
	// bytes as sent (before any Content-Encoding is removed).
	// Defaults to 64MiB.
	MaxBodySize int64 `yaml:"max_body_size"`

	// ReadTimeout bounds reading a whole request including its body.
	// Defaults to 60s.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		MaxBodySize: 64 * 1024 * 1024, // 64MiB
		ReadTimeout: 60 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("server.addr is required")
	}

	if c.MaxBodySize <= 0 {
		return errors.New("server.max_body_size must be positive")
	}

	if c.ReadTimeout < 0 {
		return errors.New("server.read_timeout must not be negative")
	}

	return nil
}
