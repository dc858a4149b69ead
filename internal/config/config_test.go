package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("AdminTokenTTL converts minutes to duration", func(t *testing.T) {
		cfg := &Config{AdminTokenTTLMinutes: 90}
		assert.Equal(t, 90*time.Minute, cfg.AdminTokenTTL())
	})

	t.Run("SessionRetention is zero when disabled", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), (&Config{}).SessionRetention())
		assert.Equal(t, 48*time.Hour, (&Config{SessionRetentionDays: 2}).SessionRetention())
	})

	t.Run("feature toggles follow configured values", func(t *testing.T) {
		cfg := &Config{}
		assert.False(t, cfg.AdminEnabled())
		assert.False(t, cfg.WarehouseEnabled())

		cfg.AdminPasswordHash = "$2a$12$abc"
		cfg.AdminJWTSecret = "secret"
		cfg.ClickHouseAddr = "localhost:9000"
		assert.True(t, cfg.AdminEnabled())
		assert.True(t, cfg.WarehouseEnabled())
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:             "rediss://cache:6380",
			SessionIDMaxAttempts: 5,
			ExportBatchSize:      100,
		}
	}

	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, valid().Validate(false))
	})

	t.Run("rejects non-bcrypt password hash", func(t *testing.T) {
		cfg := valid()
		cfg.AdminPasswordHash = "plaintext"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero id attempts", func(t *testing.T) {
		cfg := valid()
		cfg.SessionIDMaxAttempts = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero flush interval with a warehouse", func(t *testing.T) {
		cfg := valid()
		cfg.ClickHouseAddr = "clickhouse:9000"
		cfg.ExportFlushSeconds = 0
		assert.ErrorContains(t, cfg.Validate(false), "EXPORT_FLUSH_SECONDS")

		cfg.ExportFlushSeconds = 5
		assert.NoError(t, cfg.Validate(false))

		cfg.ClickHouseAddr = ""
		cfg.ExportFlushSeconds = 0
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("requires strong jwt secret in production", func(t *testing.T) {
		cfg := valid()
		cfg.AdminPasswordHash = "$2a$12$abcdefghijklmnopqrstuv"
		cfg.AdminJWTSecret = "secret"
		assert.Error(t, cfg.Validate(true))

		cfg.AdminJWTSecret = "0123456789abcdef0123456789abcdef"
		assert.NoError(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
		assert.Equal(t, 5, cfg.SessionIDMaxAttempts)
		assert.Equal(t, 120, cfg.IngestRateLimitPerMin)
		assert.True(t, cfg.AutoMigrate)
	})

	t.Run("loads custom values", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("REDIS_URL", "redis://localhost:6379")
		t.Setenv("PORT", "3000")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("ALLOWED_ORIGINS", "https://agency.example,https://www.agency.example")
		t.Setenv("CLICKHOUSE_ADDR", "clickhouse:9000")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, []string{"https://agency.example", "https://www.agency.example"}, cfg.AllowedOrigins)
		assert.True(t, cfg.WarehouseEnabled())
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/test")
		t.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("DATABASE_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
