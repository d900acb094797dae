package config

import (
	"fmt"
	"strings"
	"time"
)

// validate performs comprehensive validation of the configuration.
// Returns an error describing the first validation failure found.
func validate(config *Config) error {
	if err := validatePlayer(&config.Player); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if err := validateSubtitle(&config.Subtitle); err != nil {
		return fmt.Errorf("subtitle config: %w", err)
	}

	if err := validateDownload(&config.Download); err != nil {
		return fmt.Errorf("download config: %w", err)
	}

	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// validatePlayer validates playback recovery configuration.
func validatePlayer(config *PlayerConfig) error {
	if config.MaxRetries < 0 || config.MaxRetries > 20 {
		return fmt.Errorf("max_retries must be between 0 and 20")
	}

	if config.RetryBaseDelay < 100*time.Millisecond || config.RetryBaseDelay > 60*time.Second {
		return fmt.Errorf("retry_base_delay must be between 100ms and 60s")
	}

	if config.NotificationDuration < 0 {
		return fmt.Errorf("notification_duration cannot be negative")
	}

	return nil
}

// validateSubtitle validates subtitle fetch configuration.
func validateSubtitle(config *SubtitleConfig) error {
	if config.FetchAttempts < 1 || config.FetchAttempts > 10 {
		return fmt.Errorf("fetch_attempts must be between 1 and 10")
	}

	if config.FetchTimeout < time.Second {
		return fmt.Errorf("fetch_timeout must be at least 1s")
	}

	return nil
}

// validateDownload validates download configuration.
func validateDownload(config *DownloadConfig) error {
	if config.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}

	if config.RateLimitMbps < 0 {
		return fmt.Errorf("rate_limit_mbps cannot be negative")
	}

	if config.RetryAttempts < 1 || config.RetryAttempts > 20 {
		return fmt.Errorf("retry_attempts must be between 1 and 20")
	}

	if config.RetryDelay < 100*time.Millisecond || config.RetryDelay > 60*time.Second {
		return fmt.Errorf("retry_delay must be between 100ms and 60s")
	}

	if config.MaxRetryDelay < config.RetryDelay {
		return fmt.Errorf("max_retry_delay must not be shorter than retry_delay")
	}

	if config.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s")
	}

	if config.ProgressInterval < 0 {
		return fmt.Errorf("progress_interval cannot be negative")
	}

	if config.ETAWindow < time.Second {
		return fmt.Errorf("eta_window must be at least 1s")
	}

	return nil
}

// validateStorage validates the storage location.
func validateStorage(config *StorageConfig) error {
	if config.Directory == "" {
		return fmt.Errorf("directory is required")
	}
	return nil
}

// validateServer validates HTTP server configuration.
func validateServer(config *ServerConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	return nil
}

// validateLogging validates logging configuration.
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("level must be one of: %s", strings.Join(validLevels, ", "))
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("format must be one of: %s", strings.Join(validFormats, ", "))
	}

	return nil
}

// contains checks if a slice contains a specific string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
