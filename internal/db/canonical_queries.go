package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CanonicalRecord is one canonical content row.
type CanonicalRecord struct {
	CanonicalID   int64
	CanonicalUUID string
	StoryNumber   int64
	CategoryID    *int64
	TitleEN       string
	TitleKH       string
	ContentEN     string
	ContentKH     string
	GeneratedFrom []int64
	Version       int
	Published     bool
	PublishedAt   *time.Time
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanonicalText is the bilingual body written by fusion.
type CanonicalText struct {
	TitleEN   string
	TitleKH   string
	ContentEN string
	ContentKH string
}

// InsertCanonicalParams describes a new canonical row at version 1.
type InsertCanonicalParams struct {
	CanonicalUUID string
	StoryNumber   int64
	CategoryID    *int64
	Text          CanonicalText
	GeneratedFrom []int64
}

const canonicalColumns = `
	canonical_id,
	canonical_uuid::text,
	story_number,
	category_id,
	title_en,
	title_kh,
	content_en,
	content_kh,
	generated_from,
	version,
	published,
	published_at,
	status,
	created_at,
	updated_at
`

func scanCanonical(scan func(dest ...any) error) (CanonicalRecord, error) {
	var row CanonicalRecord
	var generatedFrom datatypes.JSONSlice[int64]
	err := scan(
		&row.CanonicalID,
		&row.CanonicalUUID,
		&row.StoryNumber,
		&row.CategoryID,
		&row.TitleEN,
		&row.TitleKH,
		&row.ContentEN,
		&row.ContentKH,
		&generatedFrom,
		&row.Version,
		&row.Published,
		&row.PublishedAt,
		&row.Status,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	row.GeneratedFrom = []int64(generatedFrom)
	return row, err
}

// GetActiveCanonical returns the current canonical content of a story.
func (p *Pool) GetActiveCanonical(ctx context.Context, storyNumber int64) (CanonicalRecord, error) {
	q := `SELECT ` + canonicalColumns + `
FROM fusion.canonical_contents
WHERE story_number = $1
  AND status = 'active'
ORDER BY created_at DESC, canonical_id DESC
LIMIT 1`

	row, err := scanCanonical(p.QueryRow(ctx, q, storyNumber).Scan)
	if err != nil {
		if IsNoRows(err) {
			return CanonicalRecord{}, ErrNoRows
		}
		return CanonicalRecord{}, fmt.Errorf("query active canonical story=%d: %w", storyNumber, err)
	}
	return row, nil
}

func (p *Pool) GetCanonical(ctx context.Context, canonicalID int64) (CanonicalRecord, error) {
	q := `SELECT ` + canonicalColumns + ` FROM fusion.canonical_contents WHERE canonical_id = $1`

	row, err := scanCanonical(p.QueryRow(ctx, q, canonicalID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return CanonicalRecord{}, ErrNoRows
		}
		return CanonicalRecord{}, fmt.Errorf("query canonical_id=%d: %w", canonicalID, err)
	}
	return row, nil
}

func (p *Pool) GetCanonicalByUUID(ctx context.Context, canonicalUUID string) (CanonicalRecord, error) {
	q := `SELECT ` + canonicalColumns + ` FROM fusion.canonical_contents WHERE canonical_uuid = $1::uuid`

	row, err := scanCanonical(p.QueryRow(ctx, q, strings.TrimSpace(canonicalUUID)).Scan)
	if err != nil {
		if IsNoRows(err) {
			return CanonicalRecord{}, ErrNoRows
		}
		return CanonicalRecord{}, fmt.Errorf("query canonical uuid=%s: %w", canonicalUUID, err)
	}
	return row, nil
}

// InsertCanonical creates version 1 for a story with no active content. A
// concurrent create for the same story surfaces as ErrConflict.
func (p *Pool) InsertCanonical(ctx context.Context, params InsertCanonicalParams) (CanonicalRecord, error) {
	row, err := insertCanonical(ctx, p, params)
	if err != nil {
		if IsUniqueViolation(err) {
			return CanonicalRecord{}, ErrConflict
		}
		return CanonicalRecord{}, err
	}
	return row, nil
}

func insertCanonical(ctx context.Context, q Querier, params InsertCanonicalParams) (CanonicalRecord, error) {
	stmt := `
INSERT INTO fusion.canonical_contents (
	canonical_uuid,
	story_number,
	category_id,
	title_en,
	title_kh,
	content_en,
	content_kh,
	generated_from,
	version,
	status
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, 1, 'active')
RETURNING ` + canonicalColumns

	row, err := scanCanonical(q.QueryRow(
		ctx,
		stmt,
		params.CanonicalUUID,
		params.StoryNumber,
		params.CategoryID,
		params.Text.TitleEN,
		params.Text.TitleKH,
		params.Text.ContentEN,
		params.Text.ContentKH,
		datatypes.JSONSlice[int64](params.GeneratedFrom),
	).Scan)
	if err != nil {
		return CanonicalRecord{}, fmt.Errorf("insert canonical story=%d: %w", params.StoryNumber, err)
	}
	return row, nil
}

// UpdateCanonicalContent merges in place and bumps the version by one. The
// expected version guards against a concurrent bump; a miss is ErrConflict.
func (p *Pool) UpdateCanonicalContent(
	ctx context.Context,
	canonicalID int64,
	expectedVersion int,
	text CanonicalText,
	generatedFrom []int64,
) (CanonicalRecord, error) {
	stmt := `
UPDATE fusion.canonical_contents
SET title_en = $3,
	title_kh = $4,
	content_en = $5,
	content_kh = $6,
	generated_from = $7,
	version = version + 1,
	updated_at = now()
WHERE canonical_id = $1
  AND version = $2
  AND status = 'active'
RETURNING ` + canonicalColumns

	row, err := scanCanonical(p.QueryRow(
		ctx,
		stmt,
		canonicalID,
		expectedVersion,
		text.TitleEN,
		text.TitleKH,
		text.ContentEN,
		text.ContentKH,
		datatypes.JSONSlice[int64](generatedFrom),
	).Scan)
	if err != nil {
		if IsNoRows(err) {
			return CanonicalRecord{}, ErrConflict
		}
		return CanonicalRecord{}, fmt.Errorf("update canonical_id=%d: %w", canonicalID, err)
	}
	return row, nil
}

// SupersedeCanonical retires the prior row and inserts its successor at
// version 1 in one transaction.
func (p *Pool) SupersedeCanonical(
	ctx context.Context,
	priorID int64,
	expectedVersion int,
	params InsertCanonicalParams,
) (CanonicalRecord, error) {
	const retire = `
UPDATE fusion.canonical_contents
SET status = 'superseded',
	updated_at = now()
WHERE canonical_id = $1
  AND version = $2
  AND status = 'active'
`

	var created CanonicalRecord
	err := p.InTx(ctx, func(tx Tx) error {
		tag, err := tx.Exec(ctx, retire, priorID, expectedVersion)
		if err != nil {
			return fmt.Errorf("supersede canonical_id=%d: %w", priorID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		created, err = insertCanonical(ctx, tx, params)
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return CanonicalRecord{}, ErrConflict
		}
		return CanonicalRecord{}, err
	}
	return created, nil
}

// SetCanonicalCategory is the only write categorization makes to canonical
// content.
func (p *Pool) SetCanonicalCategory(ctx context.Context, canonicalID int64, categoryID *int64) error {
	const q = `
UPDATE fusion.canonical_contents
SET category_id = $2,
	updated_at = now()
WHERE canonical_id = $1
`
	if _, err := p.Exec(ctx, q, canonicalID, categoryID); err != nil {
		return fmt.Errorf("set category canonical_id=%d: %w", canonicalID, err)
	}
	return nil
}

// ReplaceCanonicalTags swaps the tag set of a canonical row.
func (p *Pool) ReplaceCanonicalTags(ctx context.Context, canonicalID int64, tagIDs []int64) error {
	return p.InTx(ctx, func(tx Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM fusion.canonical_content_tags WHERE canonical_id = $1`, canonicalID); err != nil {
			return fmt.Errorf("clear tags canonical_id=%d: %w", canonicalID, err)
		}
		for _, tagID := range tagIDs {
			const insert = `
INSERT INTO fusion.canonical_content_tags (canonical_id, tag_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`
			if _, err := tx.Exec(ctx, insert, canonicalID, tagID); err != nil {
				return fmt.Errorf("attach tag_id=%d canonical_id=%d: %w", tagID, canonicalID, err)
			}
		}
		return nil
	})
}

func (p *Pool) ListCanonicalTagIDs(ctx context.Context, canonicalID int64) ([]int64, error) {
	const q = `
SELECT tag_id
FROM fusion.canonical_content_tags
WHERE canonical_id = $1
ORDER BY tag_id
`
	rows, err := p.Query(ctx, q, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("query tags canonical_id=%d: %w", canonicalID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tag id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
