// Package ingest drives one source at a time from raw fetch through story
// grouping and content fusion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/fusion"
	"horse.fit/fusion/internal/globaltime"
	"horse.fit/fusion/internal/grouping"
	"horse.fit/fusion/internal/langdetect"
	"horse.fit/fusion/internal/media"
	"horse.fit/fusion/internal/metrics"
	"horse.fit/fusion/internal/sources"
	"horse.fit/fusion/internal/textutil"
)

const (
	DefaultFetchLimit       = 50
	DefaultMinContentLength = 50
	DefaultResumeLimit      = 100

	maxErrorLength = 4000
	titleRunes     = 120
)

// Outcome labels what happened to one grouped post.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeTooShort  Outcome = "too_short"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "error"
)

type Store interface {
	ListSources(ctx context.Context, sourceType string) ([]db.SourceRecord, error)
	AdvanceSourceCursor(ctx context.Context, sourceID int64, cursor string) error
	ItemExistsByURL(ctx context.Context, sourceURL string) (bool, error)
	ItemExistsByContentHash(ctx context.Context, contentHash string) (bool, error)
	InsertItem(ctx context.Context, params db.InsertItemParams) (int64, error)
	GetItem(ctx context.Context, itemID int64) (db.ItemRecord, error)
	SetItemStatus(ctx context.Context, itemID int64, status string, errMessage *string) error
	ListResumableItems(ctx context.Context, limit int) ([]db.ItemRecord, error)
}

type StoryAssigner interface {
	AssignStory(ctx context.Context, req grouping.Request) (grouping.Assignment, error)
}

type Fuser interface {
	Fuse(ctx context.Context, item db.ItemRecord) (fusion.Result, error)
}

type MediaAttacher interface {
	Attach(ctx context.Context, itemID int64, src media.Source) (db.MediaAsset, error)
}

type Options struct {
	FetchLimit       int
	MinContentLength int
	// ExcludeOwnSource keeps an item from joining a story that so far only
	// its own source has reported.
	ExcludeOwnSource bool
}

type Service struct {
	store    Store
	fetchers sources.Registry
	grouper  StoryAssigner
	fuser    Fuser
	media    MediaAttacher
	opts     Options
	logger   zerolog.Logger
}

// BatchResult counts one source pass.
type BatchResult struct {
	SourceID   int64
	SourceName string
	Fetched    int
	Groups     int
	Processed  int
	Duplicates int
	TooShort   int
	Empty      int
	Failed     int
	Cursor     string
}

func (r *BatchResult) count(outcome Outcome) {
	switch outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeTooShort:
		r.TooShort++
	case OutcomeEmpty:
		r.Empty++
	case OutcomeFailed:
		r.Failed++
	}
}

// ResumeResult counts a crash-recovery pass.
type ResumeResult struct {
	Resumed int
	Failed  int
}

func NewService(
	store Store,
	fetchers sources.Registry,
	grouper StoryAssigner,
	fuser Fuser,
	mediaAttacher MediaAttacher,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = DefaultFetchLimit
	}
	if opts.MinContentLength < 0 {
		opts.MinContentLength = 0
	}
	return &Service{
		store:    store,
		fetchers: fetchers,
		grouper:  grouper,
		fuser:    fuser,
		media:    mediaAttacher,
		opts:     opts,
		logger:   logger,
	}
}

// RunAll processes every enabled source of sourceType ("" for all types)
// one after another. A failing source does not stop the others.
func (s *Service) RunAll(ctx context.Context, sourceType string) ([]BatchResult, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("ingest service is not initialized")
	}
	list, err := s.store.ListSources(ctx, sourceType)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	results := make([]BatchResult, 0, len(list))
	var failures []error
	for _, source := range list {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.RunSource(ctx, source)
		results = append(results, result)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			s.logger.Error().
				Err(err).
				Int64("source_id", source.SourceID).
				Str("source", source.Name).
				Msg("source pass failed")
			failures = append(failures, fmt.Errorf("source %s: %w", source.Name, err))
		}
	}
	return results, errors.Join(failures...)
}

// RunSource fetches one batch after the stored cursor and processes it item
// by item. The cursor only moves once every item of the batch was handled.
func (s *Service) RunSource(ctx context.Context, source db.SourceRecord) (BatchResult, error) {
	result := BatchResult{SourceID: source.SourceID, SourceName: source.Name, Cursor: source.Cursor}
	if s == nil || s.store == nil {
		return result, fmt.Errorf("ingest service is not initialized")
	}

	fetcher, err := s.fetchers.For(source.SourceType)
	if err != nil {
		return result, err
	}
	raws, next, err := fetcher.Fetch(ctx, source, source.Cursor, s.opts.FetchLimit)
	if err != nil {
		return result, fmt.Errorf("fetch source %s: %w", source.Name, err)
	}
	result.Fetched = len(raws)
	metrics.ObserveBatchSize(len(raws))

	groups := groupParts(raws)
	result.Groups = len(groups)
	for _, parts := range groups {
		if err := ctx.Err(); err != nil {
			s.logger.Warn().
				Int64("source_id", source.SourceID).
				Int("processed", result.Processed).
				Msg("source pass canceled; cursor not advanced")
			return result, err
		}
		outcome := s.processGroup(ctx, source, parts)
		result.count(outcome)
		metrics.RecordIngestItem(source.SourceType, string(outcome))
	}

	if next != "" && next != source.Cursor {
		if err := s.store.AdvanceSourceCursor(ctx, source.SourceID, next); err != nil {
			return result, fmt.Errorf("advance cursor for source %s: %w", source.Name, err)
		}
		result.Cursor = next
	}

	s.logger.Info().
		Int64("source_id", source.SourceID).
		Str("source", source.Name).
		Int("fetched", result.Fetched).
		Int("processed", result.Processed).
		Int("duplicates", result.Duplicates).
		Int("too_short", result.TooShort).
		Int("failed", result.Failed).
		Str("cursor", result.Cursor).
		Msg("source pass completed")
	return result, nil
}

// groupParts keeps parts sharing a GroupKey together, in order of first
// appearance. Parts without a key stand alone.
func groupParts(raws []sources.RawItem) [][]sources.RawItem {
	groups := make([][]sources.RawItem, 0, len(raws))
	index := make(map[string]int, len(raws))
	for _, raw := range raws {
		key := strings.TrimSpace(raw.GroupKey)
		if key == "" {
			groups = append(groups, []sources.RawItem{raw})
			continue
		}
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], raw)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []sources.RawItem{raw})
	}
	return groups
}

// post is a grouped item after normalization.
type post struct {
	raw     sources.RawItem
	title   string
	content string
	url     string
	media   media.Source
}

func buildPost(source db.SourceRecord, parts []sources.RawItem) post {
	textual := parts[0]
	for _, part := range parts {
		if strings.TrimSpace(part.Content) != "" || strings.TrimSpace(part.Title) != "" {
			textual = part
			break
		}
	}

	opts := textutil.CleanOptions{StripURLs: source.Config.StripURLs, StripEmojis: source.Config.StripEmojis}
	p := post{
		raw:     textual,
		title:   textutil.Clean(textual.Title, opts),
		content: textutil.Clean(textual.Content, opts),
		url:     textutil.NormalizeURL(textual.URL),
	}
	if p.content == "" {
		p.content = p.title
	}
	if p.title == "" {
		p.title = textutil.FirstLine(p.content, titleRunes)
	}

	if source.Config.AllowMedia {
		for _, part := range parts {
			if part.Media != nil {
				p.media = part.Media
				break
			}
		}
	}
	return p
}

func (s *Service) minContentLength(source db.SourceRecord) int {
	if source.Config.MinContentLength != nil && *source.Config.MinContentLength >= 0 {
		return *source.Config.MinContentLength
	}
	return s.opts.MinContentLength
}

func (s *Service) processGroup(ctx context.Context, source db.SourceRecord, parts []sources.RawItem) Outcome {
	p := buildPost(source, parts)
	log := s.logger.With().
		Int64("source_id", source.SourceID).
		Str("external_id", p.raw.ExternalID).
		Logger()

	if p.content == "" {
		log.Debug().Msg("post has no text; skipped")
		return OutcomeEmpty
	}
	if p.media == nil && textutil.Length(p.content) < s.minContentLength(source) {
		log.Debug().Int("length", textutil.Length(p.content)).Msg("post below minimum length; skipped")
		return OutcomeTooShort
	}

	hash := textutil.ContentHash(p.title, p.content)
	duplicate, err := s.isDuplicate(ctx, p.url, hash)
	if err != nil {
		log.Error().Err(err).Msg("duplicate check failed")
		return OutcomeFailed
	}
	if duplicate {
		log.Debug().Str("url", p.url).Msg("duplicate post; skipped")
		return OutcomeDuplicate
	}

	params := db.InsertItemParams{
		SourceID:    source.SourceID,
		ExternalID:  p.raw.ExternalID,
		GroupKey:    p.raw.GroupKey,
		Title:       p.title,
		Content:     p.content,
		ContentHash: hash,
		Language:    langdetect.Detect(p.title + "\n" + p.content),
		ScrapedAt:   globaltime.UTC(),
	}
	if p.url != "" {
		params.SourceURL = &p.url
	}
	if !p.raw.PublishedAt.IsZero() {
		published := p.raw.PublishedAt.UTC()
		params.PublishedAt = &published
	}

	itemID, err := s.store.InsertItem(ctx, params)
	if errors.Is(err, db.ErrDuplicateItem) {
		log.Debug().Msg("duplicate post stored concurrently; skipped")
		return OutcomeDuplicate
	}
	if err != nil {
		log.Error().Err(err).Msg("persist item failed")
		return OutcomeFailed
	}

	if p.media != nil && s.media != nil {
		if _, err := s.media.Attach(ctx, itemID, p.media); err != nil {
			log.Warn().Err(err).Int64("item_id", itemID).Msg("media skipped")
		}
	}

	if err := s.processItem(ctx, itemID, source.SourceID); err != nil {
		return OutcomeFailed
	}
	return OutcomeProcessed
}

func (s *Service) isDuplicate(ctx context.Context, normalizedURL, hash string) (bool, error) {
	if normalizedURL != "" {
		exists, err := s.store.ItemExistsByURL(ctx, normalizedURL)
		if err != nil {
			return false, fmt.Errorf("check url: %w", err)
		}
		if exists {
			return true, nil
		}
	}
	exists, err := s.store.ItemExistsByContentHash(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	return exists, nil
}

// processItem runs grouping and fusion for a stored item and records the
// final status. Errors are recorded on the item before being returned.
func (s *Service) processItem(ctx context.Context, itemID, sourceID int64) error {
	err := s.groupAndFuse(ctx, itemID, sourceID)
	if err == nil {
		if statusErr := s.store.SetItemStatus(ctx, itemID, db.ItemStatusProcessed, nil); statusErr != nil {
			s.logger.Error().Err(statusErr).Int64("item_id", itemID).Msg("mark item processed failed")
			return statusErr
		}
		return nil
	}

	if ctx.Err() != nil {
		// Left in PROCESSING; ResumePending picks it up.
		return err
	}
	message := textutil.Truncate(err.Error(), maxErrorLength)
	if statusErr := s.store.SetItemStatus(context.WithoutCancel(ctx), itemID, db.ItemStatusError, &message); statusErr != nil {
		s.logger.Error().Err(statusErr).Int64("item_id", itemID).Msg("record item error failed")
	}
	s.logger.Error().Err(err).Int64("item_id", itemID).Msg("item processing failed")
	return err
}

func (s *Service) groupAndFuse(ctx context.Context, itemID, sourceID int64) error {
	if err := s.store.SetItemStatus(ctx, itemID, db.ItemStatusProcessing, nil); err != nil {
		return fmt.Errorf("mark item processing: %w", err)
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}

	req := grouping.Request{ItemID: item.ItemID, Title: item.Title, Content: item.Content}
	if s.opts.ExcludeOwnSource {
		req.ExcludeSourceID = &sourceID
	}
	assignment, err := s.grouper.AssignStory(ctx, req)
	if err != nil {
		return fmt.Errorf("assign story: %w", err)
	}
	storyNumber := assignment.StoryNumber
	item.StoryNumber = &storyNumber

	result, err := s.fuser.Fuse(ctx, item)
	if err != nil {
		return fmt.Errorf("fuse: %w", err)
	}
	s.logger.Debug().
		Int64("item_id", itemID).
		Int64("story_number", storyNumber).
		Bool("new_story", assignment.IsNewStory).
		Str("action", string(result.Action)).
		Msg("item processed")
	return nil
}

// ResumePending re-drives items a previous pass left in NEW or PROCESSING.
// Grouping and fusion are both idempotent for an item, so a half-finished
// item is simply run again.
func (s *Service) ResumePending(ctx context.Context, limit int) (ResumeResult, error) {
	if s == nil || s.store == nil {
		return ResumeResult{}, fmt.Errorf("ingest service is not initialized")
	}
	if limit <= 0 {
		limit = DefaultResumeLimit
	}
	items, err := s.store.ListResumableItems(ctx, limit)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("list resumable items: %w", err)
	}

	var result ResumeResult
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.processItem(ctx, item.ItemID, item.SourceID); err != nil {
			result.Failed++
			continue
		}
		result.Resumed++
	}
	if len(items) > 0 {
		s.logger.Info().Int("resumed", result.Resumed).Int("failed", result.Failed).Msg("resume pass completed")
	}
	return result, nil
}
