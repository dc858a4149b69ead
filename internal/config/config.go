package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                  int      `env:"PORT" envDefault:"8080"`
	DatabaseURL           string   `env:"DATABASE_URL,required"`
	RedisURL              string   `env:"REDIS_URL,required"`
	LogLevel              string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins        []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	AutoMigrate           bool     `env:"AUTO_MIGRATE" envDefault:"true"`
	AdminPasswordHash     string   `env:"ADMIN_PASSWORD_HASH"`
	AdminJWTSecret        string   `env:"ADMIN_JWT_SECRET"`
	AdminTokenTTLMinutes  int      `env:"ADMIN_TOKEN_TTL_MINUTES" envDefault:"720"`
	IngestRateLimitPerMin int      `env:"INGEST_RATE_LIMIT_PER_MIN" envDefault:"120"`
	SessionIDMaxAttempts  int      `env:"SESSION_ID_MAX_ATTEMPTS" envDefault:"5"`
	SessionRetentionDays  int      `env:"SESSION_RETENTION_DAYS" envDefault:"0"`
	ClickHouseAddr        string   `env:"CLICKHOUSE_ADDR"`
	ClickHouseDatabase    string   `env:"CLICKHOUSE_DATABASE" envDefault:"analytics"`
	ClickHouseUsername    string   `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	ClickHousePassword    string   `env:"CLICKHOUSE_PASSWORD"`
	ExportBatchSize       int      `env:"EXPORT_BATCH_SIZE" envDefault:"500"`
	ExportFlushSeconds    int      `env:"EXPORT_FLUSH_SECONDS" envDefault:"5"`
}

func (c *Config) AdminTokenTTL() time.Duration {
	return time.Duration(c.AdminTokenTTLMinutes) * time.Minute
}

func (c *Config) ExportFlushInterval() time.Duration {
	return time.Duration(c.ExportFlushSeconds) * time.Second
}

// SessionRetention returns zero when retention purging is disabled.
func (c *Config) SessionRetention() time.Duration {
	if c.SessionRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.SessionRetentionDays) * 24 * time.Hour
}

func (c *Config) AdminEnabled() bool {
	return c.AdminPasswordHash != "" && c.AdminJWTSecret != ""
}

func (c *Config) WarehouseEnabled() bool {
	return c.ClickHouseAddr != ""
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	if c.SessionIDMaxAttempts < 1 {
		return fmt.Errorf("SESSION_ID_MAX_ATTEMPTS must be at least 1")
	}
	if c.ExportBatchSize < 1 {
		return fmt.Errorf("EXPORT_BATCH_SIZE must be at least 1")
	}
	if c.WarehouseEnabled() && c.ExportFlushSeconds < 1 {
		return fmt.Errorf("EXPORT_FLUSH_SECONDS must be at least 1 when CLICKHOUSE_ADDR is set")
	}

	if isProduction {
		if c.AdminPasswordHash != "" {
			if err := validateSecret("ADMIN_JWT_SECRET", c.AdminJWTSecret); err != nil {
				return err
			}
		}

		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		for _, origin := range c.AllowedOrigins {
			if origin == "*" {
				log.Warn().Msg("ALLOWED_ORIGINS contains * in production: any site can post tracking events")
			}
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
