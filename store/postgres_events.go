package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"merlodigital/site/models"
	"merlodigital/site/utils"
)

const createPostgresEventsTable = `
	CREATE TABLE IF NOT EXISTS tracking_events (
		id          BIGSERIAL PRIMARY KEY,
		event_id    TEXT NOT NULL,
		site        TEXT NOT NULL,
		visitor_id  TEXT NOT NULL,
		new_visitor BOOLEAN NOT NULL DEFAULT FALSE,
		action      TEXT NOT NULL,
		page        TEXT NOT NULL,
		destination TEXT NOT NULL,
		referrer    TEXT NOT NULL,
		ip_address  TEXT NOT NULL,
		device      TEXT NOT NULL,
		location    TEXT NOT NULL,
		network     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	);
`

// PostgresEventStore appends tracking events to a Postgres table.
type PostgresEventStore struct {
	db   *sql.DB
	site string
}

// NewPostgresEventStore returns a store that labels every row with site.
func NewPostgresEventStore(db *sql.DB, site string) *PostgresEventStore {
	return &PostgresEventStore{db: db, site: site}
}

// EnsureSchema creates the events table if it does not exist.
func (s *PostgresEventStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createPostgresEventsTable); err != nil {
		return fmt.Errorf("failed to create tracking_events table: %w", err)
	}
	return nil
}

// InsertEvent writes one row.
func (s *PostgresEventStore) InsertEvent(ctx context.Context, ev *models.TrackingEvent) error {
	location, network := ev.Location()
	query := `
		INSERT INTO tracking_events (
			event_id, site, visitor_id, new_visitor, action, page, destination,
			referrer, ip_address, device, location, network, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`
	_, err := s.db.ExecContext(ctx, query,
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
func (s *PostgresEventStore) ClicksOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.ClickCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}
	query := `
		SELECT date_trunc($1, created_at) AS time_bucket, count(*) AS total
		FROM tracking_events
		WHERE site = $2 AND created_at >= $3 AND created_at <= $4
		GROUP BY time_bucket
		ORDER BY time_bucket ASC;
	`
	rows, err := s.db.QueryContext(ctx, query, strings.ToLower(interval), s.site, start, end)
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
func (s *PostgresEventStore) TopActions(ctx context.Context, start, end time.Time, limit uint64) ([]models.ActionCount, error) {
	if limit == 0 {
		limit = 10
	}
	query := `
		SELECT action, count(*) AS total
		FROM tracking_events
		WHERE site = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY action
		ORDER BY total DESC, action ASC
		LIMIT $4;
	`
	rows, err := s.db.QueryContext(ctx, query, s.site, start, end, limit)
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
func (s *PostgresEventStore) UniqueVisitors(ctx context.Context, start, end time.Time) (uint64, error) {
	query := `
		SELECT count(DISTINCT visitor_id)
		FROM tracking_events
		WHERE site = $1 AND created_at >= $2 AND created_at <= $3;
	`
	var n uint64
	if err := s.db.QueryRowContext(ctx, query, s.site, start, end).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unique visitors: %w", err)
	}
	return n, nil
}
