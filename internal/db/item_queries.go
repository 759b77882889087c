package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateItem is returned when an insert loses to a live item with the
// same source URL or content hash.
var ErrDuplicateItem = errors.New("duplicate item")

// ItemRecord is an item as the pipeline reads it back.
type ItemRecord struct {
	ItemID        int64
	SourceID      int64
	ExternalID    string
	GroupKey      string
	Title         string
	Content       string
	ContentHash   string
	SourceURL     *string
	Language      string
	PublishedAt   *time.Time
	ScrapedAt     time.Time
	StoryNumber   *int64
	IsStoryLeader bool
	Status        string
	ErrorMessage  *string
}

// InsertItemParams is a normalized item ready to persist.
type InsertItemParams struct {
	SourceID    int64
	ExternalID  string
	GroupKey    string
	Title       string
	Content     string
	ContentHash string
	SourceURL   *string
	Language    string
	PublishedAt *time.Time
	ScrapedAt   time.Time
}

const itemColumns = `
	item_id,
	source_id,
	external_id,
	group_key,
	title,
	content,
	content_hash,
	source_url,
	language,
	published_at,
	scraped_at,
	story_number,
	is_story_leader,
	status,
	error_message
`

func scanItem(scan func(dest ...any) error) (ItemRecord, error) {
	var row ItemRecord
	err := scan(
		&row.ItemID,
		&row.SourceID,
		&row.ExternalID,
		&row.GroupKey,
		&row.Title,
		&row.Content,
		&row.ContentHash,
		&row.SourceURL,
		&row.Language,
		&row.PublishedAt,
		&row.ScrapedAt,
		&row.StoryNumber,
		&row.IsStoryLeader,
		&row.Status,
		&row.ErrorMessage,
	)
	return row, err
}

// ItemExistsByURL checks live items for a normalized source URL.
func (p *Pool) ItemExistsByURL(ctx context.Context, sourceURL string) (bool, error) {
	trimmed := strings.TrimSpace(sourceURL)
	if trimmed == "" {
		return false, nil
	}
	const q = `SELECT EXISTS (SELECT 1 FROM fusion.items WHERE source_url = $1 AND deleted_at IS NULL)`

	var exists bool
	if err := p.QueryRow(ctx, q, trimmed).Scan(&exists); err != nil {
		return false, fmt.Errorf("query item by url: %w", err)
	}
	return exists, nil
}

// ItemExistsByContentHash checks live items for a content hash.
func (p *Pool) ItemExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM fusion.items WHERE content_hash = $1 AND deleted_at IS NULL)`

	var exists bool
	if err := p.QueryRow(ctx, q, contentHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("query item by content hash: %w", err)
	}
	return exists, nil
}

// InsertItem stores a NEW item. A unique-index conflict means another pass
// stored the same content first and surfaces as ErrDuplicateItem.
func (p *Pool) InsertItem(ctx context.Context, params InsertItemParams) (int64, error) {
	const q = `
INSERT INTO fusion.items (
	source_id,
	external_id,
	group_key,
	title,
	content,
	content_hash,
	source_url,
	language,
	published_at,
	scraped_at,
	status
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'NEW')
RETURNING item_id
`

	var itemID int64
	err := p.QueryRow(
		ctx,
		q,
		params.SourceID,
		params.ExternalID,
		params.GroupKey,
		params.Title,
		params.Content,
		params.ContentHash,
		params.SourceURL,
		params.Language,
		params.PublishedAt,
		params.ScrapedAt,
	).Scan(&itemID)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, ErrDuplicateItem
		}
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return itemID, nil
}

func (p *Pool) GetItem(ctx context.Context, itemID int64) (ItemRecord, error) {
	q := `SELECT ` + itemColumns + ` FROM fusion.items WHERE item_id = $1 AND deleted_at IS NULL`

	row, err := scanItem(p.QueryRow(ctx, q, itemID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return ItemRecord{}, ErrNoRows
		}
		return ItemRecord{}, fmt.Errorf("query item_id=%d: %w", itemID, err)
	}
	return row, nil
}

// SetItemStatus moves an item through NEW → PROCESSING → PROCESSED or ERROR.
func (p *Pool) SetItemStatus(ctx context.Context, itemID int64, status string, errMessage *string) error {
	const q = `
UPDATE fusion.items
SET status = $2,
	error_message = $3,
	updated_at = now()
WHERE item_id = $1
`
	if _, err := p.Exec(ctx, q, itemID, status, errMessage); err != nil {
		return fmt.Errorf("set item_id=%d status=%s: %w", itemID, status, err)
	}
	return nil
}

// ListResumableItems returns items a crashed pass left in NEW or PROCESSING,
// oldest first.
func (p *Pool) ListResumableItems(ctx context.Context, limit int) ([]ItemRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + itemColumns + `
FROM fusion.items
WHERE deleted_at IS NULL
  AND status IN ('NEW', 'PROCESSING')
ORDER BY scraped_at ASC, item_id ASC
LIMIT $1`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query resumable items: %w", err)
	}
	defer rows.Close()

	out := make([]ItemRecord, 0, limit)
	for rows.Next() {
		row, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan resumable item: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resumable items: %w", err)
	}
	return out, nil
}

// InsertMediaAsset records an uploaded blob. Call only after the upload
// succeeded.
func (p *Pool) InsertMediaAsset(ctx context.Context, asset MediaAsset) (int64, error) {
	const q = `
INSERT INTO fusion.media_assets (item_id, object_key, mime_type, width, height, size_bytes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING media_asset_id
`
	var id int64
	err := p.QueryRow(ctx, q, asset.ItemID, asset.ObjectKey, asset.MimeType, asset.Width, asset.Height, asset.SizeBytes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert media asset item_id=%d: %w", asset.ItemID, err)
	}
	return id, nil
}
