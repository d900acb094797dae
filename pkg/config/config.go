// Package config provides configuration management for go-strata.
// It uses koanf for flexible configuration loading from YAML files with validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete configuration for a go-strata session host.
// It represents the structure of config.yaml with validation rules for each section.
type Config struct {
	Player   PlayerConfig   `koanf:"player"`
	Subtitle SubtitleConfig `koanf:"subtitle"`
	Download DownloadConfig `koanf:"download"`
	Storage  StorageConfig  `koanf:"storage"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// PlayerConfig controls playback recovery and preference persistence.
type PlayerConfig struct {
	MaxRetries           int           `koanf:"max_retries"`
	RetryBaseDelay       time.Duration `koanf:"retry_base_delay"`
	PersistSettings      bool          `koanf:"persist_settings"`
	NotificationDuration time.Duration `koanf:"notification_duration"`
}

// SubtitleConfig controls subtitle fetching and default rendering mode.
type SubtitleConfig struct {
	FetchAttempts   int           `koanf:"fetch_attempts"`
	FetchTimeout    time.Duration `koanf:"fetch_timeout"`
	NativeRendering bool          `koanf:"native_rendering"`
}

// DownloadConfig controls download behavior, retry policy, and rate limiting.
type DownloadConfig struct {
	OutputDirectory  string        `koanf:"output_directory"`
	StreamToDisk     bool          `koanf:"stream_to_disk"`
	RateLimitMbps    int           `koanf:"rate_limit_mbps"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	RetryDelay       time.Duration `koanf:"retry_delay"`
	MaxRetryDelay    time.Duration `koanf:"max_retry_delay"`
	RequestTimeout   time.Duration `koanf:"request_timeout"`
	ProgressInterval time.Duration `koanf:"progress_interval"`
	ETAWindow        time.Duration `koanf:"eta_window"`
}

// StorageConfig locates the embedded settings and history database.
type StorageConfig struct {
	Directory string `koanf:"directory"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port              int           `koanf:"port"`
	Host              string        `koanf:"host"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	EnableCompression bool          `koanf:"enable_compression"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
}

// LoggingConfig defines logging behavior and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration from the specified YAML file and applies validation.
// An empty path yields the defaults. Returns a validated Config or an error if
// loading/validation fails.
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath != "" {
		k := koanf.New(".")

		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}

		// Booleans that default to true must be seeded before unmarshal so an
		// absent key keeps the default while an explicit false is honoured.
		config.Player.PersistSettings = true
		config.Download.StreamToDisk = true

		if err := k.Unmarshal("", &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else {
		config.Player.PersistSettings = true
		config.Download.StreamToDisk = true
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a validated configuration built purely from defaults.
func Default() *Config {
	config := &Config{}
	config.Player.PersistSettings = true
	config.Download.StreamToDisk = true
	applyDefaults(config)
	return config
}

// applyDefaults sets sensible defaults for configuration values that weren't specified.
func applyDefaults(config *Config) {
	// Player defaults
	if config.Player.MaxRetries == 0 {
		config.Player.MaxRetries = 5
	}
	if config.Player.RetryBaseDelay == 0 {
		config.Player.RetryBaseDelay = 1500 * time.Millisecond
	}
	if config.Player.NotificationDuration == 0 {
		config.Player.NotificationDuration = 3 * time.Second
	}

	// Subtitle defaults
	if config.Subtitle.FetchAttempts == 0 {
		config.Subtitle.FetchAttempts = 3
	}
	if config.Subtitle.FetchTimeout == 0 {
		config.Subtitle.FetchTimeout = 10 * time.Second
	}

	// Download defaults
	if config.Download.OutputDirectory == "" {
		config.Download.OutputDirectory = "./downloads"
	}
	if config.Download.RetryAttempts == 0 {
		config.Download.RetryAttempts = 3
	}
	if config.Download.RetryDelay == 0 {
		config.Download.RetryDelay = 1 * time.Second
	}
	if config.Download.MaxRetryDelay == 0 {
		config.Download.MaxRetryDelay = 8 * time.Second
	}
	if config.Download.RequestTimeout == 0 {
		config.Download.RequestTimeout = 30 * time.Second
	}
	if config.Download.ProgressInterval == 0 {
		config.Download.ProgressInterval = 800 * time.Millisecond
	}
	if config.Download.ETAWindow == 0 {
		config.Download.ETAWindow = 5 * time.Second
	}

	// Storage defaults
	if config.Storage.Directory == "" {
		config.Storage.Directory = "./data"
	}

	// Server defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 15 * time.Second
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{"*"}
	}

	// Logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

// GetLogLevel converts the string log level to slog.Level.
// Returns slog.LevelInfo for invalid or unknown levels.
func (c *LoggingConfig) GetLogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger described by the logging section.
func (c *LoggingConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.GetLogLevel()}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// CreateDirectories ensures that the storage and download directories exist.
func (c *Config) CreateDirectories() error {
	for _, dir := range []string{c.Storage.Directory, c.Download.OutputDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
