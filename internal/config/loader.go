package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. AXCRYPT_LOG_LEVEL.
const EnvPrefix = "AXCRYPT"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	v := l.v
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("axcrypt")
		for _, dir := range l.defaultPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile reports the file that was read, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "axcrypt"),
			filepath.Join(homeDir, ".axcrypt"),
		)
	}

	return paths
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)

	v.SetDefault("crypto.key_wrap_iterations", cfg.Crypto.KeyWrapIterations)
	v.SetDefault("crypto.buffer_size", cfg.Crypto.BufferSize)
	v.SetDefault("crypto.compress", cfg.Crypto.Compress)

	v.SetDefault("session.state_backend", cfg.Session.StateBackend)
	v.SetDefault("session.state_path", cfg.Session.StatePath)
	v.SetDefault("session.decrypted_dir", cfg.Session.DecryptedDir)
	v.SetDefault("session.check_interval", cfg.Session.CheckInterval)
	v.SetDefault("session.idle_delay", cfg.Session.IdleDelay)
	v.SetDefault("session.desktop", cfg.Session.Desktop)
	v.SetDefault("session.protection_secret_file", cfg.Session.ProtectionSecretFile)

	v.SetDefault("workers.max_concurrent", cfg.Workers.MaxConcurrent)

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
}

// SaveExample writes an example config file in the format implied by its extension.
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
