// Package sources pulls raw items from external channels. Each fetcher is
// cursor based: it returns items strictly after the cursor it was handed and
// the cursor to store once the batch has been processed.
package sources

import (
	"context"
	"fmt"
	"time"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/media"
)

// RawItem is one message or article as a source delivered it. Parts of a
// multi-part post share a GroupKey.
type RawItem struct {
	ExternalID  string
	GroupKey    string
	Title       string
	Content     string
	URL         string
	PublishedAt time.Time
	Media       media.Source
}

type Fetcher interface {
	Fetch(ctx context.Context, source db.SourceRecord, cursor string, limit int) ([]RawItem, string, error)
}

// Registry maps a source type to its fetcher.
type Registry map[string]Fetcher

func (r Registry) For(sourceType string) (Fetcher, error) {
	fetcher, ok := r[sourceType]
	if !ok || fetcher == nil {
		return nil, fmt.Errorf("no fetcher registered for source type %q", sourceType)
	}
	return fetcher, nil
}
