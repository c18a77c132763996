package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/require"

	"merlodigital/site/models"
)

// fakeConn records Exec and Query calls and answers queries with rows. Methods
// it does not override panic through the nil embedded interface.
type fakeConn struct {
	clickhouse.Conn
	queries []string
	args    [][]interface{}
	rows    [][]interface{}
	err     error
}

func (f *fakeConn) Query(_ context.Context, query string, args ...interface{}) (driver.Rows, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

func (f *fakeConn) QueryRow(_ context.Context, query string, args ...interface{}) driver.Row {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return &fakeRow{values: f.rows[0], err: f.err}
}

type fakeRows struct {
	driver.Rows
	rows [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error { return assign(dest, r.rows[r.pos]) }
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close() error { return nil }

type fakeRow struct {
	driver.Row
	values []interface{}
	err    error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

func assign(dest, values []interface{}) error {
	if len(dest) != len(values) {
		return errors.New("column count mismatch")
	}
	for i, v := range values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func (f *fakeConn) Exec(_ context.Context, query string, args ...interface{}) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return f.err
}

func TestClickHouseEnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	s := NewClickHouseEventStore(conn, "merlodigital.com")

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, conn.queries, 1)
	require.Contains(t, conn.queries[0], "CREATE TABLE IF NOT EXISTS tracking_events")
	require.Contains(t, conn.queries[0], "ENGINE = MergeTree")
}

func TestClickHouseInsertEvent(t *testing.T) {
	conn := &fakeConn{}
	s := NewClickHouseEventStore(conn, "merlodigital.com")
	ev := sampleEvent()

	require.NoError(t, s.InsertEvent(context.Background(), ev))
	require.True(t, strings.Contains(conn.queries[0], "INSERT INTO tracking_events"))
	require.Equal(t, []interface{}{
		ev.EventID, "merlodigital.com", "v-1", true, "WhatsApp Flutuante", "/", "https://wa.me/55",
		"Acesso Direto / Navegação Interna", "203.0.113.7", "📱 Safari no iOS 17.0",
		"Curitiba/Parana (BR)", "Vivo", ev.CreatedAt,
	}, conn.args[0])
}

func TestClickHouseInsertEvent_WrapsError(t *testing.T) {
	boom := errors.New("code: 241, memory limit exceeded")
	s := NewClickHouseEventStore(&fakeConn{err: boom}, "merlodigital.com")
	require.ErrorIs(t, s.InsertEvent(context.Background(), sampleEvent()), boom)
}

func TestClickHouseClicksOverTime(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	conn := &fakeConn{rows: [][]interface{}{
		{start, uint64(4)},
		{start.Add(24 * time.Hour), uint64(9)},
	}}
	s := NewClickHouseEventStore(conn, "merlodigital.com")

	got, err := s.ClicksOverTime(context.Background(), "Day", start, end)
	require.NoError(t, err)
	require.Equal(t, []models.ClickCountByTime{
		{Time: start, Count: 4},
		{Time: start.Add(24 * time.Hour), Count: 9},
	}, got)
	require.Contains(t, conn.queries[0], "toStartOfDay(created_at)")
	require.Equal(t, []interface{}{"merlodigital.com", start, end}, conn.args[0])
}

func TestClickHouseClicksOverTime_RejectsInterval(t *testing.T) {
	conn := &fakeConn{}
	s := NewClickHouseEventStore(conn, "merlodigital.com")
	_, err := s.ClicksOverTime(context.Background(), "Day(created_at)); DROP TABLE x; --", time.Now(), time.Now())
	require.ErrorContains(t, err, "invalid interval")
	require.Empty(t, conn.queries)
}

func TestClickHouseTopActions(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	conn := &fakeConn{rows: [][]interface{}{
		{"WhatsApp", uint64(12)},
		{"Contato", uint64(3)},
	}}
	s := NewClickHouseEventStore(conn, "merlodigital.com")

	got, err := s.TopActions(context.Background(), start, end, 0)
	require.NoError(t, err)
	require.Equal(t, []models.ActionCount{{Action: "WhatsApp", Count: 12}, {Action: "Contato", Count: 3}}, got)
	require.Contains(t, conn.queries[0], "GROUP BY action")
	require.Equal(t, []interface{}{"merlodigital.com", start, end, uint64(10)}, conn.args[0])
}

func TestClickHouseUniqueVisitors(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	conn := &fakeConn{rows: [][]interface{}{{uint64(7)}}}
	s := NewClickHouseEventStore(conn, "merlodigital.com")

	n, err := s.UniqueVisitors(context.Background(), start, end)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.Contains(t, conn.queries[0], "uniqExact(visitor_id)")
}

func TestClickHouseStats_WrapErrors(t *testing.T) {
	boom := errors.New("code: 60, table does not exist")
	conn := &fakeConn{rows: [][]interface{}{{uint64(0)}}, err: boom}
	s := NewClickHouseEventStore(conn, "merlodigital.com")

	_, err := s.ClicksOverTime(context.Background(), "Hour", time.Now(), time.Now())
	require.ErrorIs(t, err, boom)
	_, err = s.TopActions(context.Background(), time.Now(), time.Now(), 5)
	require.ErrorIs(t, err, boom)
	_, err = s.UniqueVisitors(context.Background(), time.Now(), time.Now())
	require.ErrorIs(t, err, boom)
}
