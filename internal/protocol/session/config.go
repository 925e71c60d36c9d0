package session

import (
	"time"

	"github.com/danmuck/replinet/internal/protocol/frame"
)

// Config defines per-connection buffering and the loop's readiness timing.
type Config struct {
	ReadChunkBytes   int
	PollInterval     time.Duration
	IdleTimeout      time.Duration
	ResponseEncoding string
	Limits           frame.Limits
}

// DefaultConfig returns the defaults used when no config file overrides them.
func DefaultConfig() Config {
	return Config{
		ReadChunkBytes:   4096,
		PollInterval:     time.Second,
		IdleTimeout:      0,
		ResponseEncoding: frame.EncodingUTF8,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ReadChunkBytes <= 0 {
		c.ReadChunkBytes = d.ReadChunkBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.ResponseEncoding == "" {
		c.ResponseEncoding = d.ResponseEncoding
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}
