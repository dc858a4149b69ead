package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Open connects to ClickHouse over the native protocol and verifies the
// connection with a ping.
func Open(ctx context.Context, opts Options) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "visitor-analytics", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Str("database", opts.Database).Msg("clickhouse connection established")
	return conn, nil
}

const createDwellEventsTable = `
CREATE TABLE IF NOT EXISTS dwell_events (
	event_id         String,
	session_id       String,
	event_type       LowCardinality(String),
	page_name        String,
	previous_page    String,
	section_name     String,
	previous_section String,
	duration_seconds Int64,
	device_type      LowCardinality(String),
	recorded_at      DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(recorded_at)
ORDER BY (page_name, event_type, recorded_at)
`

func EnsureSchema(ctx context.Context, conn clickhouse.Conn) error {
	if err := conn.Exec(ctx, createDwellEventsTable); err != nil {
		return fmt.Errorf("failed to create dwell_events table: %w", err)
	}
	log.Info().Msg("clickhouse schema ensured")
	return nil
}
