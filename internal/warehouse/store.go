package warehouse

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/samber/lo"

	"github.com/openclaw/visitor-analytics-go/internal/model"
)

// Store writes dwell events to ClickHouse and serves the aggregate reads
// behind the admin stats routes.
type Store struct {
	conn clickhouse.Conn
}

func NewStore(conn clickhouse.Conn) *Store {
	return &Store{conn: conn}
}

func (s *Store) WriteDwellEvents(ctx context.Context, events []model.DwellEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO dwell_events (
			event_id, session_id, event_type, page_name, previous_page,
			section_name, previous_section, duration_seconds, device_type, recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare dwell batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.EventID,
			e.SessionID,
			string(e.EventType),
			e.PageName,
			e.PreviousPage,
			e.SectionName,
			e.PreviousSection,
			e.DurationSeconds,
			e.DeviceType,
			e.RecordedAt,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append dwell event %s: %w", e.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send dwell batch: %w", err)
	}
	return nil
}

type pageStatRow struct {
	PageName string `ch:"page_name"`
	Views    uint64 `ch:"views"`
	Sessions uint64 `ch:"sessions"`
}

func (s *Store) TopPages(ctx context.Context, since time.Time, limit int) ([]model.PageStat, error) {
	var rows []pageStatRow
	err := s.conn.Select(ctx, &rows, `
		SELECT page_name, count() AS views, uniqExact(session_id) AS sessions
		FROM dwell_events
		WHERE event_type = ? AND recorded_at >= ?
		GROUP BY page_name
		ORDER BY views DESC, page_name ASC
		LIMIT ?
	`, string(model.DwellEventPageView), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}

	return lo.Map(rows, func(r pageStatRow, _ int) model.PageStat {
		return model.PageStat{PageName: r.PageName, Views: r.Views, Sessions: r.Sessions}
	}), nil
}

type sectionStatRow struct {
	SectionName string  `ch:"section_name"`
	Dwells      uint64  `ch:"dwells"`
	AvgDuration float64 `ch:"avg_duration"`
	MaxDuration int64   `ch:"max_duration"`
}

func (s *Store) SectionDwell(ctx context.Context, pageName string, since time.Time) ([]model.SectionStat, error) {
	var rows []sectionStatRow
	err := s.conn.Select(ctx, &rows, `
		SELECT section_name,
			count() AS dwells,
			avg(duration_seconds) AS avg_duration,
			max(duration_seconds) AS max_duration
		FROM dwell_events
		WHERE event_type = ? AND page_name = ? AND recorded_at >= ?
		GROUP BY section_name
		ORDER BY dwells DESC, section_name ASC
	`, string(model.DwellEventSectionDwell), pageName, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query section dwell: %w", err)
	}

	return lo.Map(rows, func(r sectionStatRow, _ int) model.SectionStat {
		avg := r.AvgDuration
		// avg over no rows is NaN, which encoding/json rejects.
		if math.IsNaN(avg) {
			avg = 0
		}
		return model.SectionStat{
			SectionName:     r.SectionName,
			Dwells:          r.Dwells,
			AvgDurationSecs: avg,
			MaxDurationSecs: r.MaxDuration,
		}
	}), nil
}
