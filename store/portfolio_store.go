package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// PortfolioStore reads user-defined tables kept as JSON records.
type PortfolioStore struct {
	db *sql.DB
}

func NewPortfolioStore(db *sql.DB) *PortfolioStore {
	return &PortfolioStore{db: db}
}

// TableIDByName returns the id of the first table whose display name
// contains keyword, case-insensitively, or "" when there is none.
func (s *PortfolioStore) TableIDByName(ctx context.Context, keyword string) (string, error) {
	query := `SELECT id FROM user_tables WHERE LOWER(display_name) LIKE LOWER($1) LIMIT 1;`
	var id string
	err := s.db.QueryRowContext(ctx, query, "%"+keyword+"%").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up table %q: %w", keyword, err)
	}
	return id, nil
}

// Records returns the rows of tableID in insertion order, each flattened to
// column -> text.
func (s *PortfolioStore) Records(ctx context.Context, tableID string) ([]map[string]string, error) {
	query := `SELECT data FROM table_records WHERE table_id = $1 ORDER BY id ASC;`
	rows, err := s.db.QueryContext(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s: %w", tableID, err)
	}
	defer rows.Close()

	out := []map[string]string{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record of %s: %w", tableID, err)
		}
		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode record of %s: %w", tableID, err)
		}
		out = append(out, flatten(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records of %s: %w", tableID, err)
	}
	return out, nil
}

func flatten(data map[string]interface{}) map[string]string {
	row := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case nil:
			row[k] = ""
		case string:
			row[k] = val
		case float64:
			row[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			row[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			row[k] = string(b)
		}
	}
	return row
}
