package portfolio

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxSheetBytes = 4 << 20

// ErrTableNotFound is returned when no table matches the configured keyword.
var ErrTableNotFound = errors.New("portfolio table not found")

// SheetSource reads a published spreadsheet in CSV form.
type SheetSource struct {
	URL    string
	Client *http.Client
}

func (s *SheetSource) Fetch(ctx context.Context) ([]map[string]string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create sheet request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSheetBytes))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return ParseCSV(body)
}

// ParseCSV maps each data row to its header. Short rows leave the missing
// columns empty.
func ParseCSV(data []byte) ([]map[string]string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse sheet csv: %w", err)
	}
	if len(records) == 0 {
		return []map[string]string{}, nil
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// TableReader looks up user-defined tables in the relational store.
type TableReader interface {
	TableIDByName(ctx context.Context, keyword string) (string, error)
	Records(ctx context.Context, tableID string) ([]map[string]string, error)
}

// DatabaseSource reads the listing from the first table whose display name
// contains Keyword.
type DatabaseSource struct {
	Tables  TableReader
	Keyword string
}

func (s *DatabaseSource) Fetch(ctx context.Context) ([]map[string]string, error) {
	id, err := s.Tables.TableIDByName(ctx, s.Keyword)
	if err != nil {
		return nil, fmt.Errorf("find portfolio table %q: %w", s.Keyword, err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, s.Keyword)
	}
	rows, err := s.Tables.Records(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read portfolio table %s: %w", id, err)
	}
	return rows, nil
}
