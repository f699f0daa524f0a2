package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "DB_DRIVER", "DB_PATH", "DATABASE_URL", "TREASURY_TZ",
		"LOG_LEVEL", "LOG_FORMAT", "CORS_ORIGINS", "MONITOR_INTERVAL", "VERIFY_DEADLINE_HOUR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "treasury.db", cfg.Database.Path)
	assert.Equal(t, "UTC", cfg.Treasury.Timezone)
	assert.Equal(t, 15*time.Minute, cfg.Treasury.MonitorInterval)
	assert.Equal(t, 18, cfg.Treasury.VerifyDeadlineHour)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/treasury")
	t.Setenv("TREASURY_TZ", "UTC")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MONITOR_INTERVAL", "0")
	t.Setenv("VERIFY_DEADLINE_HOUR", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, time.Duration(0), cfg.Treasury.MonitorInterval)
	assert.Equal(t, 18, cfg.Treasury.VerifyDeadlineHour, "unparseable values keep the default")
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"},
			Treasury: TreasuryConfig{Timezone: "UTC", VerifyDeadlineHour: 18},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, `unknown DB_DRIVER "mysql"`},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "DATABASE_URL is required"},
		{"bad timezone", func(c *Config) { c.Treasury.Timezone = "Mars/Olympus" }, "TREASURY_TZ"},
		{"deadline out of range", func(c *Config) { c.Treasury.VerifyDeadlineHour = 24 }, "out of range"},
		{"negative interval", func(c *Config) { c.Treasury.MonitorInterval = -time.Second }, "MONITOR_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, valid().Validate())
}
