package db

import (
	"context"
	"fmt"
	"time"
)

// StoryCandidate is the representative item of one recent story.
type StoryCandidate struct {
	ItemID      int64
	StoryNumber int64
	SourceID    int64
	Title       string
	Content     string
	IsLeader    bool
	ScrapedAt   time.Time
	LastSeenAt  time.Time
}

// ListStoryCandidates returns one representative per story that received an
// item since the cutoff, most recently active story first. The leader
// represents its story; stories without a live leader fall back to their most
// recently scraped item. Items from excludeSourceID never represent a story.
func (p *Pool) ListStoryCandidates(ctx context.Context, since time.Time, excludeSourceID *int64, limit int) ([]StoryCandidate, error) {
	if limit <= 0 {
		limit = 200
	}

	const q = `
WITH recent AS (
	SELECT i.story_number, MAX(i.scraped_at) AS last_seen_at
	FROM fusion.items i
	WHERE i.deleted_at IS NULL
	  AND i.story_number IS NOT NULL
	  AND i.scraped_at >= $1
	  AND ($2::bigint IS NULL OR i.source_id <> $2::bigint)
	GROUP BY i.story_number
),
representative AS (
	SELECT DISTINCT ON (i.story_number)
		i.item_id,
		i.story_number,
		i.source_id,
		i.title,
		i.content,
		i.is_story_leader,
		i.scraped_at
	FROM fusion.items i
	JOIN recent r ON r.story_number = i.story_number
	WHERE i.deleted_at IS NULL
	  AND ($2::bigint IS NULL OR i.source_id <> $2::bigint)
	ORDER BY i.story_number, i.is_story_leader DESC, i.scraped_at DESC, i.item_id DESC
)
SELECT
	rep.item_id,
	rep.story_number,
	rep.source_id,
	rep.title,
	rep.content,
	rep.is_story_leader,
	rep.scraped_at,
	r.last_seen_at
FROM representative rep
JOIN recent r ON r.story_number = rep.story_number
ORDER BY r.last_seen_at DESC, rep.story_number DESC
LIMIT $3
`

	rows, err := p.Query(ctx, q, since, excludeSourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query story candidates: %w", err)
	}
	defer rows.Close()

	out := make([]StoryCandidate, 0, limit)
	for rows.Next() {
		var c StoryCandidate
		if err := rows.Scan(
			&c.ItemID,
			&c.StoryNumber,
			&c.SourceID,
			&c.Title,
			&c.Content,
			&c.IsLeader,
			&c.ScrapedAt,
			&c.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan story candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story candidates: %w", err)
	}
	return out, nil
}

// GetItemStoryNumber returns the story already assigned to an item, or nil.
func (p *Pool) GetItemStoryNumber(ctx context.Context, itemID int64) (*int64, error) {
	const q = `SELECT story_number FROM fusion.items WHERE item_id = $1`

	var storyNumber *int64
	if err := p.QueryRow(ctx, q, itemID).Scan(&storyNumber); err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query item story number item_id=%d: %w", itemID, err)
	}
	return storyNumber, nil
}

// CreateStoryForItem allocates max(existing)+1 and makes the item its leader in
// one transaction. The counter row is the serialization point: concurrent
// allocators queue on its row lock, and the GREATEST keeps the counter from
// ever falling behind numbers written by other paths.
func (p *Pool) CreateStoryForItem(ctx context.Context, itemID int64) (int64, error) {
	const allocate = `
UPDATE fusion.story_counters
SET last_value = GREATEST(
	last_value,
	(SELECT COALESCE(MAX(story_number), 0) FROM fusion.items)
) + 1
WHERE counter_id = 1
RETURNING last_value
`
	const assign = `
UPDATE fusion.items
SET story_number = $2,
	is_story_leader = TRUE,
	updated_at = now()
WHERE item_id = $1
  AND story_number IS NULL
`

	var storyNumber int64
	err := p.InTx(ctx, func(tx Tx) error {
		if err := tx.QueryRow(ctx, allocate).Scan(&storyNumber); err != nil {
			return fmt.Errorf("allocate story number: %w", err)
		}
		if itemID <= 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, assign, itemID, storyNumber)
		if err != nil {
			return fmt.Errorf("assign new story item_id=%d: %w", itemID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("assign new story item_id=%d: %w", itemID, ErrConflict)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return storyNumber, nil
}

// AttachItemToStory records a matched story on an item that has none yet.
func (p *Pool) AttachItemToStory(ctx context.Context, itemID, storyNumber int64) error {
	const q = `
UPDATE fusion.items
SET story_number = $2,
	is_story_leader = FALSE,
	updated_at = now()
WHERE item_id = $1
  AND story_number IS NULL
`
	tag, err := p.Exec(ctx, q, itemID, storyNumber)
	if err != nil {
		return fmt.Errorf("attach item_id=%d to story=%d: %w", itemID, storyNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach item_id=%d to story=%d: %w", itemID, storyNumber, ErrConflict)
	}
	return nil
}

// PromoteStoryLeader makes the oldest live item the leader when the story has
// no live leader. Returns the leader item id, or ErrNoRows when the story has
// no live items left.
func (p *Pool) PromoteStoryLeader(ctx context.Context, storyNumber int64) (int64, error) {
	const current = `
SELECT item_id
FROM fusion.items
WHERE story_number = $1
  AND is_story_leader
  AND deleted_at IS NULL
LIMIT 1
`
	const promote = `
UPDATE fusion.items
SET is_story_leader = TRUE,
	updated_at = now()
WHERE item_id = (
	SELECT item_id
	FROM fusion.items
	WHERE story_number = $1
	  AND deleted_at IS NULL
	ORDER BY scraped_at ASC, item_id ASC
	LIMIT 1
)
RETURNING item_id
`

	var leaderID int64
	err := p.InTx(ctx, func(tx Tx) error {
		err := tx.QueryRow(ctx, current, storyNumber).Scan(&leaderID)
		if err == nil {
			return nil
		}
		if !IsNoRows(err) {
			return fmt.Errorf("query story leader story=%d: %w", storyNumber, err)
		}
		if err := tx.QueryRow(ctx, promote, storyNumber).Scan(&leaderID); err != nil {
			if IsNoRows(err) {
				return ErrNoRows
			}
			return fmt.Errorf("promote story leader story=%d: %w", storyNumber, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return leaderID, nil
}

// SoftDeleteItem marks an item deleted and clears its leader flag. Returns the
// item's story number so the caller can promote a replacement leader.
func (p *Pool) SoftDeleteItem(ctx context.Context, itemID int64) (*int64, error) {
	const q = `
UPDATE fusion.items
SET deleted_at = now(),
	is_story_leader = FALSE,
	updated_at = now()
WHERE item_id = $1
  AND deleted_at IS NULL
RETURNING story_number
`
	var storyNumber *int64
	if err := p.QueryRow(ctx, q, itemID).Scan(&storyNumber); err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("soft delete item_id=%d: %w", itemID, err)
	}
	return storyNumber, nil
}
