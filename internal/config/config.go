package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Key hierarchy and stream tuning
	Crypto CryptoConfig `json:"crypto" mapstructure:"crypto"`

	// Active-file session
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Background file operations
	Workers WorkersConfig `json:"workers" mapstructure:"workers"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
}

// CryptoConfig for key wrapping and stream buffers.
type CryptoConfig struct {
	// KeyWrapIterations of 0 means calibrate on first use.
	KeyWrapIterations int64 `json:"key_wrap_iterations" mapstructure:"key_wrap_iterations"`
	BufferSize        int   `json:"buffer_size" mapstructure:"buffer_size"`
	Compress          bool  `json:"compress" mapstructure:"compress"`
}

// SessionConfig for the active-file session.
type SessionConfig struct {
	StateBackend         string        `json:"state_backend" mapstructure:"state_backend"` // json, sqlite
	StatePath            string        `json:"state_path" mapstructure:"state_path"` // directory
	DecryptedDir         string        `json:"decrypted_dir" mapstructure:"decrypted_dir"`
	CheckInterval        time.Duration `json:"check_interval" mapstructure:"check_interval"`
	IdleDelay            time.Duration `json:"idle_delay" mapstructure:"idle_delay"`
	// Desktop wipes idle decrypted copies on every check pass. Viewers
	// launched by another axcrypt process are not visible to the pass, so
	// enable it only when copies are opened through a long-running monitor.
	Desktop              bool          `json:"desktop" mapstructure:"desktop"`
	ProtectionSecretFile string        `json:"protection_secret_file" mapstructure:"protection_secret_file"`
}

// WorkersConfig for the bounded worker pool.
type WorkersConfig struct {
	MaxConcurrent int `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"` // Base directory for all data
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".axcrypt"

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Crypto: CryptoConfig{
			KeyWrapIterations: 0,
			BufferSize:        64 * 1024,
			Compress:          true,
		},
		Session: SessionConfig{
			StateBackend:         "json",
			StatePath:            filepath.Join(dataDir, "state"),
			DecryptedDir:         filepath.Join(dataDir, "decrypted"),
			CheckInterval:        10 * time.Second,
			IdleDelay:            500 * time.Millisecond,
			Desktop:              false,
			ProtectionSecretFile: filepath.Join(dataDir, "protection.key"),
		},
		Workers: WorkersConfig{
			MaxConcurrent: 2,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Crypto.KeyWrapIterations < 0 {
		return errors.New("crypto.key_wrap_iterations must not be negative")
	}

	if c.Crypto.KeyWrapIterations > 0 && c.Crypto.KeyWrapIterations < 6 {
		return errors.New("crypto.key_wrap_iterations must be at least 6")
	}

	if c.Crypto.BufferSize < 16 || c.Crypto.BufferSize%16 != 0 {
		return errors.New("crypto.buffer_size must be a positive multiple of 16")
	}

	if c.Workers.MaxConcurrent <= 0 {
		return errors.New("workers.max_concurrent must be positive")
	}

	if c.Session.CheckInterval <= 0 {
		return errors.New("session.check_interval must be positive")
	}

	if c.Session.IdleDelay < 0 {
		return errors.New("session.idle_delay must not be negative")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true}
	if !validBackends[c.Session.StateBackend] {
		return fmt.Errorf("invalid session state backend: %s", c.Session.StateBackend)
	}

	if c.Session.StatePath == "" {
		return errors.New("session.state_path is required")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Session.DecryptedDir,
		c.Session.StatePath,
	}

	if c.Session.ProtectionSecretFile != "" {
		dirs = append(dirs, filepath.Dir(c.Session.ProtectionSecretFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
