// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Treasury TreasuryConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

// DatabaseConfig selects the store implementation.
type DatabaseConfig struct {
	Driver string // sqlite | postgres
	Path   string // sqlite file, ":memory:" allowed
	URL    string // postgres DSN
}

// TreasuryConfig holds domain settings.
type TreasuryConfig struct {
	Timezone           string        // defines the calendar date of a verification
	MonitorInterval    time.Duration // 0 disables the monitor
	VerifyDeadlineHour int           // local hour after which a missing count is reported
}

type LogConfig struct {
	Level  string
	Format string // console | json
}

// Load reads an optional .env file, then configuration from environment
// variables. It uses sensible defaults for local development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:   getEnv("DB_PATH", "treasury.db"),
			URL:    getEnv("DATABASE_URL", ""),
		},
		Treasury: TreasuryConfig{
			Timezone:           getEnv("TREASURY_TZ", "UTC"),
			MonitorInterval:    getEnvDuration("MONITOR_INTERVAL", 15*time.Minute),
			VerifyDeadlineHour: getEnvInt("VERIFY_DEADLINE_HOUR", 18),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TREASURY_TZ: %w", err))
	}
	if c.Treasury.MonitorInterval < 0 {
		errs = append(errs, errors.New("MONITOR_INTERVAL must not be negative"))
	}
	if h := c.Treasury.VerifyDeadlineHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("VERIFY_DEADLINE_HOUR %d out of range 0-23", h))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	return errors.Join(errs...)
}

// Location resolves the treasury timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Treasury.Timezone)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
