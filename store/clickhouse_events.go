package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"merlodigital/site/models"
	"merlodigital/site/utils"
)

const createClickHouseEventsTable = `
	CREATE TABLE IF NOT EXISTS tracking_events (
		event_id    UUID,
		site        LowCardinality(String),
		visitor_id  String,
		new_visitor Bool,
		action      String,
		page        String,
		destination String,
		referrer    String,
		ip_address  String,
		device      String,
		location    String,
		network     String,
		created_at  DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (site, created_at, event_id)
`

// ClickHouseEventStore appends tracking events to a ClickHouse MergeTree table.
type ClickHouseEventStore struct {
	conn clickhouse.Conn
	site string
}

func NewClickHouseEventStore(conn clickhouse.Conn, site string) *ClickHouseEventStore {
	return &ClickHouseEventStore{conn: conn, site: site}
}

// EnsureSchema creates the events table if it does not exist.
func (s *ClickHouseEventStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createClickHouseEventsTable); err != nil {
		return fmt.Errorf("failed to create tracking_events table: %w", err)
	}
	return nil
}

// InsertEvent writes one row.
func (s *ClickHouseEventStore) InsertEvent(ctx context.Context, ev *models.TrackingEvent) error {
	location, network := ev.Location()
	err := s.conn.Exec(ctx, `
		INSERT INTO tracking_events (
			event_id, site, visitor_id, new_visitor, action, page, destination,
			referrer, ip_address, device, location, network, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.EventID,
		s.site,
		ev.VisitorID,
		ev.NewVisitor,
		ev.Action,
		ev.Page,
		ev.Destination,
		ev.Referrer,
		ev.IPAddress,
		ev.Device,
		location,
		network,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tracking event %s: %w", ev.EventID, err)
	}
	return nil
}

// ClicksOverTime counts clicks per interval bucket between start and end.
func (s *ClickHouseEventStore) ClicksOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.ClickCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}
	query := fmt.Sprintf(`
		SELECT toStartOf%s(created_at) AS time_bucket, count() AS total
		FROM tracking_events
		WHERE site = ? AND created_at >= ? AND created_at <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.conn.Query(ctx, query, s.site, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query clicks over time: %w", err)
	}
	defer rows.Close()

	results := []models.ClickCountByTime{}
	for rows.Next() {
		var r models.ClickCountByTime
		if err := rows.Scan(&r.Time, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan clicks over time: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for clicks over time: %w", err)
	}
	return results, nil
}

// TopActions returns the most clicked action labels.
func (s *ClickHouseEventStore) TopActions(ctx context.Context, start, end time.Time, limit uint64) ([]models.ActionCount, error) {
	if limit == 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx, `
		SELECT action, count() AS total
		FROM tracking_events
		WHERE site = ? AND created_at >= ? AND created_at <= ?
		GROUP BY action
		ORDER BY total DESC, action ASC
		LIMIT ?
	`, s.site, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top actions: %w", err)
	}
	defer rows.Close()

	results := []models.ActionCount{}
	for rows.Next() {
		var r models.ActionCount
		if err := rows.Scan(&r.Action, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top actions: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top actions: %w", err)
	}
	return results, nil
}

// UniqueVisitors counts distinct visitor ids between start and end.
func (s *ClickHouseEventStore) UniqueVisitors(ctx context.Context, start, end time.Time) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT uniqExact(visitor_id)
		FROM tracking_events
		WHERE site = ? AND created_at >= ? AND created_at <= ?
	`, s.site, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unique visitors: %w", err)
	}
	return n, nil
}
