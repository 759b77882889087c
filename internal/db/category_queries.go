package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateKeyword is returned when a live keyword already exists for the
// category and language.
var ErrDuplicateKeyword = errors.New("duplicate keyword")

type CategoryRecord struct {
	CategoryID int64
	NameEN     string
	NameKH     string
	Slug       string
}

type KeywordRecord struct {
	KeywordID    int64
	CategoryID   int64
	Keyword      string
	Language     string
	Weight       float64
	IsExactMatch bool
}

type TagRecord struct {
	TagID  int64
	NameEN string
	NameKH string
	Slug   string
}

func (p *Pool) ListCategories(ctx context.Context) ([]CategoryRecord, error) {
	const q = `
SELECT category_id, name_en, name_kh, slug
FROM fusion.categories
ORDER BY category_id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []CategoryRecord
	for rows.Next() {
		var row CategoryRecord
		if err := rows.Scan(&row.CategoryID, &row.NameEN, &row.NameKH, &row.Slug); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (p *Pool) GetCategoryBySlug(ctx context.Context, slug string) (CategoryRecord, error) {
	const q = `SELECT category_id, name_en, name_kh, slug FROM fusion.categories WHERE slug = $1`

	var row CategoryRecord
	if err := p.QueryRow(ctx, q, strings.TrimSpace(slug)).Scan(&row.CategoryID, &row.NameEN, &row.NameKH, &row.Slug); err != nil {
		if IsNoRows(err) {
			return CategoryRecord{}, ErrNoRows
		}
		return CategoryRecord{}, fmt.Errorf("query category slug=%s: %w", slug, err)
	}
	return row, nil
}

// InsertCategory returns the raw unique violation on slug collisions so the
// caller can pick the next suffix.
func (p *Pool) InsertCategory(ctx context.Context, nameEN, nameKH, slug string) (CategoryRecord, error) {
	const q = `
INSERT INTO fusion.categories (name_en, name_kh, slug)
VALUES ($1, $2, $3)
RETURNING category_id, name_en, name_kh, slug
`
	var row CategoryRecord
	if err := p.QueryRow(ctx, q, nameEN, nameKH, slug).Scan(&row.CategoryID, &row.NameEN, &row.NameKH, &row.Slug); err != nil {
		return CategoryRecord{}, fmt.Errorf("insert category slug=%s: %w", slug, err)
	}
	return row, nil
}

// ListActiveKeywords returns every live keyword across all categories.
func (p *Pool) ListActiveKeywords(ctx context.Context) ([]KeywordRecord, error) {
	const q = `
SELECT keyword_id, category_id, keyword, language, weight, is_exact_match
FROM fusion.category_keywords
WHERE deleted_at IS NULL
  AND weight > 0
ORDER BY keyword_id
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var out []KeywordRecord
	for rows.Next() {
		var row KeywordRecord
		if err := rows.Scan(&row.KeywordID, &row.CategoryID, &row.Keyword, &row.Language, &row.Weight, &row.IsExactMatch); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}

func (p *Pool) InsertKeyword(ctx context.Context, row KeywordRecord) (int64, error) {
	const q = `
INSERT INTO fusion.category_keywords (category_id, keyword, language, weight, is_exact_match)
VALUES ($1, $2, $3, $4, $5)
RETURNING keyword_id
`
	var id int64
	err := p.QueryRow(ctx, q, row.CategoryID, row.Keyword, row.Language, row.Weight, row.IsExactMatch).Scan(&id)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, ErrDuplicateKeyword
		}
		return 0, fmt.Errorf("insert keyword category_id=%d: %w", row.CategoryID, err)
	}
	return id, nil
}

func (p *Pool) GetTagBySlug(ctx context.Context, slug string) (TagRecord, error) {
	const q = `SELECT tag_id, name_en, name_kh, slug FROM fusion.tags WHERE slug = $1`

	var row TagRecord
	if err := p.QueryRow(ctx, q, strings.TrimSpace(slug)).Scan(&row.TagID, &row.NameEN, &row.NameKH, &row.Slug); err != nil {
		if IsNoRows(err) {
			return TagRecord{}, ErrNoRows
		}
		return TagRecord{}, fmt.Errorf("query tag slug=%s: %w", slug, err)
	}
	return row, nil
}

// InsertTag returns the raw unique violation when a concurrent caller won.
func (p *Pool) InsertTag(ctx context.Context, nameEN, nameKH, slug string) (TagRecord, error) {
	const q = `
INSERT INTO fusion.tags (name_en, name_kh, slug)
VALUES ($1, $2, $3)
RETURNING tag_id, name_en, name_kh, slug
`
	var row TagRecord
	if err := p.QueryRow(ctx, q, nameEN, nameKH, slug).Scan(&row.TagID, &row.NameEN, &row.NameKH, &row.Slug); err != nil {
		return TagRecord{}, fmt.Errorf("insert tag slug=%s: %w", slug, err)
	}
	return row, nil
}
