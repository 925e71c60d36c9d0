// Package config loads replinetd settings from TOML.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/replinet/internal/logging"
	"github.com/danmuck/replinet/internal/protocol/frame"
	"github.com/danmuck/replinet/internal/protocol/session"
)

var ErrInvalidConfig = errors.New("config: invalid")

// ServerConfig is the resolved runtime configuration for replinetd.
type ServerConfig struct {
	ListenAddr       string
	AdminListenAddr  string
	AdminToken       string
	CorsOrigins      []string
	PollInterval     time.Duration
	IdleTimeout      time.Duration
	MaxConnections   int
	ReadChunkBytes   int
	MaxHeaderBytes   int
	MaxPayloadBytes  int
	ResponseEncoding string
	LogLevel         string
}

func DefaultServerConfig() ServerConfig {
	s := session.DefaultConfig()
	return ServerConfig{
		ListenAddr:       "127.0.0.1:65432",
		AdminListenAddr:  "",
		CorsOrigins:      []string{"http://localhost:3000"},
		PollInterval:     s.PollInterval,
		IdleTimeout:      s.IdleTimeout,
		MaxConnections:   1024,
		ReadChunkBytes:   s.ReadChunkBytes,
		MaxHeaderBytes:   s.Limits.MaxHeaderBytes,
		MaxPayloadBytes:  s.Limits.MaxPayloadBytes,
		ResponseEncoding: s.ResponseEncoding,
		LogLevel:         "info",
	}
}

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	AdminListenAddr  string   `toml:"admin_listen_addr"`
	AdminToken       string   `toml:"admin_token"`
	CorsOrigins      []string `toml:"cors_origins"`
	PollInterval     string   `toml:"poll_interval"`
	IdleTimeout      string   `toml:"idle_timeout"`
	MaxConnections   int      `toml:"max_connections"`
	ReadChunkBytes   int      `toml:"read_chunk_bytes"`
	MaxHeaderBytes   int      `toml:"max_header_bytes"`
	MaxPayloadBytes  int      `toml:"max_payload_bytes"`
	ResponseEncoding string   `toml:"response_encoding"`
	LogLevel         string   `toml:"log_level"`
}

// Load overlays the keys defined in path onto DefaultServerConfig and
// validates the result.
func Load(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return ServerConfig{}, fmt.Errorf("load config (%s): %w: unknown keys %s", path, ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("poll_interval") {
		d, err := parseDuration("poll_interval", raw.PollInterval)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("idle_timeout") {
		d, err := parseDuration("idle_timeout", raw.IdleTimeout)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.IdleTimeout = d
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("read_chunk_bytes") {
		cfg.ReadChunkBytes = raw.ReadChunkBytes
	}
	if meta.IsDefined("max_header_bytes") {
		cfg.MaxHeaderBytes = raw.MaxHeaderBytes
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("response_encoding") {
		cfg.ResponseEncoding = strings.TrimSpace(raw.ResponseEncoding)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func (c ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen_addr %q: %v", ErrInvalidConfig, c.ListenAddr, err)
	}
	if c.AdminListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminListenAddr); err != nil {
			return fmt.Errorf("%w: admin_listen_addr %q: %v", ErrInvalidConfig, c.AdminListenAddr, err)
		}
		if c.AdminListenAddr == c.ListenAddr {
			return fmt.Errorf("%w: admin_listen_addr must differ from listen_addr", ErrInvalidConfig)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max_connections must be positive", ErrInvalidConfig)
	}
	if c.ReadChunkBytes <= 0 {
		return fmt.Errorf("%w: read_chunk_bytes must be positive", ErrInvalidConfig)
	}
	if c.MaxHeaderBytes <= 0 || c.MaxHeaderBytes > frame.MaxHeaderLen {
		return fmt.Errorf("%w: max_header_bytes must be in 1..%d", ErrInvalidConfig, frame.MaxHeaderLen)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("%w: max_payload_bytes must be positive", ErrInvalidConfig)
	}
	if _, err := frame.LookupEncoding(c.ResponseEncoding); err != nil {
		return fmt.Errorf("%w: response_encoding: %v", ErrInvalidConfig, err)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// Session returns the per-connection settings.
func (c ServerConfig) Session() session.Config {
	return session.Config{
		ReadChunkBytes:   c.ReadChunkBytes,
		PollInterval:     c.PollInterval,
		IdleTimeout:      c.IdleTimeout,
		ResponseEncoding: c.ResponseEncoding,
		Limits: frame.Limits{
			MaxHeaderBytes:  c.MaxHeaderBytes,
			MaxPayloadBytes: c.MaxPayloadBytes,
		},
	}.WithDefaults()
}
