package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// SourceRecord is a configured source with its cursor.
type SourceRecord struct {
	SourceID   int64
	Name       string
	SourceType string
	Locator    string
	Config     SourceConfig
	Cursor     string
	Enabled    bool
}

const sourceColumns = `source_id, name, source_type, locator, config, cursor, enabled`

func scanSource(scan func(dest ...any) error) (SourceRecord, error) {
	var row SourceRecord
	var cfg datatypes.JSONType[SourceConfig]
	err := scan(&row.SourceID, &row.Name, &row.SourceType, &row.Locator, &cfg, &row.Cursor, &row.Enabled)
	row.Config = cfg.Data()
	return row, err
}

// ListSources returns enabled, live sources, optionally of one type.
func (p *Pool) ListSources(ctx context.Context, sourceType string) ([]SourceRecord, error) {
	q := `SELECT ` + sourceColumns + `
FROM fusion.sources
WHERE deleted_at IS NULL
  AND enabled
  AND ($1 = '' OR source_type = $1)
ORDER BY source_id`

	rows, err := p.Query(ctx, q, strings.TrimSpace(sourceType))
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceRecord
	for rows.Next() {
		row, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func (p *Pool) GetSource(ctx context.Context, sourceID int64) (SourceRecord, error) {
	q := `SELECT ` + sourceColumns + ` FROM fusion.sources WHERE source_id = $1 AND deleted_at IS NULL`

	row, err := scanSource(p.QueryRow(ctx, q, sourceID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return SourceRecord{}, ErrNoRows
		}
		return SourceRecord{}, fmt.Errorf("query source_id=%d: %w", sourceID, err)
	}
	return row, nil
}

// AdvanceSourceCursor persists the position after a completed batch.
func (p *Pool) AdvanceSourceCursor(ctx context.Context, sourceID int64, cursor string) error {
	const q = `
UPDATE fusion.sources
SET cursor = $2,
	cursor_updated_at = now()
WHERE source_id = $1
`
	if _, err := p.Exec(ctx, q, sourceID, cursor); err != nil {
		return fmt.Errorf("advance cursor source_id=%d: %w", sourceID, err)
	}
	return nil
}
