package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/jobsync/internal/gateway"
	"github.com/MimeLyc/jobsync/pkg/log"
)

// Config holds all application configuration
//
// Environment Variables:
// Scheduler:
// - JOBSYNC_API_URL: scheduler REST endpoint (default: http://localhost:8500)
// - JOBSYNC_TIMEOUT: per-request timeout in seconds (default: 10)
// - JOBSYNC_RESYNC_CRON: periodic resync schedule (default: @every 30s)
//
// Local surface:
// - HTTP_ADDR: observer HTTP listen address (default: :8080)
// - JOURNAL_DB_PATH: SQLite operation journal, empty disables it (default: /app/data/jobsync.db)
// - JOURNAL_RETENTION_HOURS: journal retention in hours, 0 keeps everything (default: 168)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - SETTINGS_FILE: runtime settings override file (default: /app/config/settings.json)
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
	Journal   JournalConfig   `json:"journal"`
	Log       LogConfig       `json:"log"`
}

type SchedulerConfig struct {
	APIURL     string `json:"api_url"`
	Timeout    int    `json:"timeout"`
	ResyncCron string `json:"resync_cron"`
}

// Gateway converts the scheduler section into a gateway configuration.
func (c SchedulerConfig) Gateway() *gateway.Config {
	return &gateway.Config{
		BaseURL: c.APIURL,
		Timeout: time.Duration(c.Timeout) * time.Second,
	}
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type JournalConfig struct {
	DBPath         string `json:"db_path"`
	RetentionHours int    `json:"retention_hours"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Scheduler: SchedulerConfig{
			APIURL:     getEnvString("JOBSYNC_API_URL", "http://localhost:8500"),
			Timeout:    getEnvInt("JOBSYNC_TIMEOUT", 10),
			ResyncCron: getEnvString("JOBSYNC_RESYNC_CRON", "@every 30s"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		Journal: JournalConfig{
			DBPath:         getEnvStringAllowEmpty("JOURNAL_DB_PATH", "/app/data/jobsync.db"),
			RetentionHours: getEnvInt("JOURNAL_RETENTION_HOURS", 168),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if err := c.Scheduler.Gateway().Validate(); err != nil {
		return fmt.Errorf("JOBSYNC_API_URL: %w", err)
	}
	if c.Scheduler.Timeout < 1 {
		return fmt.Errorf("JOBSYNC_TIMEOUT must be greater than 0")
	}
	if _, err := cron.ParseStandard(c.Scheduler.ResyncCron); err != nil {
		return fmt.Errorf("invalid JOBSYNC_RESYNC_CRON: %w", err)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.Journal.RetentionHours < 0 {
		return fmt.Errorf("JOURNAL_RETENTION_HOURS must not be negative")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStringAllowEmpty treats a variable that is set but empty as an explicit empty value.
func getEnvStringAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
