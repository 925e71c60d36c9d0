package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func toFileConfig(c ServerConfig) fileConfig {
	return fileConfig{
		ListenAddr:       c.ListenAddr,
		AdminListenAddr:  c.AdminListenAddr,
		AdminToken:       c.AdminToken,
		CorsOrigins:      c.CorsOrigins,
		PollInterval:     c.PollInterval.String(),
		IdleTimeout:      c.IdleTimeout.String(),
		MaxConnections:   c.MaxConnections,
		ReadChunkBytes:   c.ReadChunkBytes,
		MaxHeaderBytes:   c.MaxHeaderBytes,
		MaxPayloadBytes:  c.MaxPayloadBytes,
		ResponseEncoding: c.ResponseEncoding,
		LogLevel:         c.LogLevel,
	}
}

// Render encodes c in config.toml form.
func Render(c ServerConfig) (string, error) {
	out, err := toml.Marshal(toFileConfig(c))
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(out), nil
}

// Template is the default config.toml.
func Template() (string, error) {
	return Render(DefaultServerConfig())
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
