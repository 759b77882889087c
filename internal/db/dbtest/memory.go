// Package dbtest provides an in-memory stand-in for db.Pool with the same
// query semantics, for engine tests that should not need PostgreSQL.
package dbtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/globaltime"
)

type keywordRow struct {
	db.KeywordRecord
	deleted bool
}

// Memory is safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	seq          map[string]int64
	storyCounter int64

	sources     map[int64]db.SourceRecord
	items       []db.ItemRecord
	deleted     map[int64]bool
	canonicals  []db.CanonicalRecord
	categories  []db.CategoryRecord
	keywords    []keywordRow
	tags        []db.TagRecord
	contentTags map[int64][]int64
	media       []db.MediaAsset

	failures map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		seq:         map[string]int64{},
		sources:     map[int64]db.SourceRecord{},
		deleted:     map[int64]bool{},
		contentTags: map[int64][]int64{},
		failures:    map[string]error{},
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *Memory) fault(method string) error {
	return m.failures[method]
}

func (m *Memory) next(table string) int64 {
	m.seq[table]++
	return m.seq[table]
}

func duplicate(what string) error {
	return fmt.Errorf("%s: %w", what, gorm.ErrDuplicatedKey)
}

// AddSource registers a source and returns its id.
func (m *Memory) AddSource(src db.SourceRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	src.SourceID = m.next("sources")
	m.sources[src.SourceID] = src
	return src.SourceID
}

func (m *Memory) ListSources(_ context.Context, sourceType string) ([]db.SourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListSources"); err != nil {
		return nil, err
	}
	var out []db.SourceRecord
	for _, src := range m.sources {
		if !src.Enabled {
			continue
		}
		if sourceType != "" && src.SourceType != sourceType {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (m *Memory) GetSource(_ context.Context, sourceID int64) (db.SourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return db.SourceRecord{}, db.ErrNoRows
	}
	return src, nil
}

func (m *Memory) AdvanceSourceCursor(_ context.Context, sourceID int64, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AdvanceSourceCursor"); err != nil {
		return err
	}
	src, ok := m.sources[sourceID]
	if !ok {
		return db.ErrNoRows
	}
	src.Cursor = cursor
	m.sources[sourceID] = src
	return nil
}

func (m *Memory) itemIndex(itemID int64) int {
	for i := range m.items {
		if m.items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

func (m *Memory) live(idx int) bool {
	return idx >= 0 && !m.deleted[m.items[idx].ItemID]
}

func (m *Memory) ItemExistsByURL(_ context.Context, sourceURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trimmed := strings.TrimSpace(sourceURL)
	if trimmed == "" {
		return false, nil
	}
	for i, item := range m.items {
		if m.live(i) && item.SourceURL != nil && *item.SourceURL == trimmed {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ItemExistsByContentHash(_ context.Context, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.items {
		if m.live(i) && item.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertItem(_ context.Context, params db.InsertItemParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertItem"); err != nil {
		return 0, err
	}
	for i, item := range m.items {
		if !m.live(i) {
			continue
		}
		if item.ContentHash == params.ContentHash {
			return 0, db.ErrDuplicateItem
		}
		if params.SourceURL != nil && item.SourceURL != nil && *item.SourceURL == *params.SourceURL {
			return 0, db.ErrDuplicateItem
		}
	}
	scrapedAt := params.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = globaltime.UTC()
	}
	row := db.ItemRecord{
		ItemID:      m.next("items"),
		SourceID:    params.SourceID,
		ExternalID:  params.ExternalID,
		GroupKey:    params.GroupKey,
		Title:       params.Title,
		Content:     params.Content,
		ContentHash: params.ContentHash,
		SourceURL:   cloneString(params.SourceURL),
		Language:    params.Language,
		PublishedAt: params.PublishedAt,
		ScrapedAt:   scrapedAt,
		Status:      db.ItemStatusNew,
	}
	m.items = append(m.items, row)
	return row.ItemID, nil
}

func (m *Memory) GetItem(_ context.Context, itemID int64) (db.ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.itemIndex(itemID)
	if !m.live(idx) {
		return db.ItemRecord{}, db.ErrNoRows
	}
	return cloneItem(m.items[idx]), nil
}

func (m *Memory) SetItemStatus(_ context.Context, itemID int64, status string, errMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SetItemStatus"); err != nil {
		return err
	}
	idx := m.itemIndex(itemID)
	if idx < 0 {
		return nil
	}
	m.items[idx].Status = status
	m.items[idx].ErrorMessage = cloneString(errMessage)
	return nil
}

func (m *Memory) ListResumableItems(_ context.Context, limit int) ([]db.ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []db.ItemRecord
	for i, item := range m.items {
		if !m.live(i) {
			continue
		}
		if item.Status == db.ItemStatusNew || item.Status == db.ItemStatusProcessing {
			out = append(out, cloneItem(item))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScrapedAt.Equal(out[j].ScrapedAt) {
			return out[i].ScrapedAt.Before(out[j].ScrapedAt)
		}
		return out[i].ItemID < out[j].ItemID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertMediaAsset(_ context.Context, asset db.MediaAsset) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertMediaAsset"); err != nil {
		return 0, err
	}
	asset.MediaAssetID = m.next("media")
	m.media = append(m.media, asset)
	return asset.MediaAssetID, nil
}

func (m *Memory) ListStoryCandidates(_ context.Context, since time.Time, excludeSourceID *int64, limit int) ([]db.StoryCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListStoryCandidates"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	excluded := func(item db.ItemRecord) bool {
		return excludeSourceID != nil && item.SourceID == *excludeSourceID
	}

	lastSeen := map[int64]time.Time{}
	for i, item := range m.items {
		if !m.live(i) || item.StoryNumber == nil || excluded(item) || item.ScrapedAt.Before(since) {
			continue
		}
		if seen, ok := lastSeen[*item.StoryNumber]; !ok || item.ScrapedAt.After(seen) {
			lastSeen[*item.StoryNumber] = item.ScrapedAt
		}
	}

	reps := map[int64]db.ItemRecord{}
	for i, item := range m.items {
		if !m.live(i) || item.StoryNumber == nil || excluded(item) {
			continue
		}
		story := *item.StoryNumber
		if _, ok := lastSeen[story]; !ok {
			continue
		}
		current, ok := reps[story]
		if !ok || representsBetter(item, current) {
			reps[story] = item
		}
	}

	out := make([]db.StoryCandidate, 0, len(reps))
	for story, item := range reps {
		out = append(out, db.StoryCandidate{
			ItemID:      item.ItemID,
			StoryNumber: story,
			SourceID:    item.SourceID,
			Title:       item.Title,
			Content:     item.Content,
			IsLeader:    item.IsStoryLeader,
			ScrapedAt:   item.ScrapedAt,
			LastSeenAt:  lastSeen[story],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].StoryNumber > out[j].StoryNumber
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func representsBetter(a, b db.ItemRecord) bool {
	if a.IsStoryLeader != b.IsStoryLeader {
		return a.IsStoryLeader
	}
	if !a.ScrapedAt.Equal(b.ScrapedAt) {
		return a.ScrapedAt.After(b.ScrapedAt)
	}
	return a.ItemID > b.ItemID
}

func (m *Memory) GetItemStoryNumber(_ context.Context, itemID int64) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.itemIndex(itemID)
	if idx < 0 {
		return nil, db.ErrNoRows
	}
	return cloneInt64(m.items[idx].StoryNumber), nil
}

func (m *Memory) CreateStoryForItem(_ context.Context, itemID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CreateStoryForItem"); err != nil {
		return 0, err
	}
	idx := -1
	if itemID > 0 {
		idx = m.itemIndex(itemID)
		if idx < 0 || m.items[idx].StoryNumber != nil {
			return 0, fmt.Errorf("assign new story item_id=%d: %w", itemID, db.ErrConflict)
		}
	}
	maxStory := m.storyCounter
	for _, item := range m.items {
		if item.StoryNumber != nil && *item.StoryNumber > maxStory {
			maxStory = *item.StoryNumber
		}
	}
	m.storyCounter = maxStory + 1
	story := m.storyCounter
	if idx >= 0 {
		m.items[idx].StoryNumber = &story
		m.items[idx].IsStoryLeader = true
	}
	return story, nil
}

func (m *Memory) AttachItemToStory(_ context.Context, itemID, storyNumber int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.itemIndex(itemID)
	if idx < 0 || m.items[idx].StoryNumber != nil {
		return fmt.Errorf("attach item_id=%d to story=%d: %w", itemID, storyNumber, db.ErrConflict)
	}
	story := storyNumber
	m.items[idx].StoryNumber = &story
	m.items[idx].IsStoryLeader = false
	return nil
}

func (m *Memory) PromoteStoryLeader(_ context.Context, storyNumber int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldest := -1
	for i, item := range m.items {
		if !m.live(i) || item.StoryNumber == nil || *item.StoryNumber != storyNumber {
			continue
		}
		if item.IsStoryLeader {
			return item.ItemID, nil
		}
		if oldest < 0 || item.ScrapedAt.Before(m.items[oldest].ScrapedAt) ||
			(item.ScrapedAt.Equal(m.items[oldest].ScrapedAt) && item.ItemID < m.items[oldest].ItemID) {
			oldest = i
		}
	}
	if oldest < 0 {
		return 0, db.ErrNoRows
	}
	m.items[oldest].IsStoryLeader = true
	return m.items[oldest].ItemID, nil
}

func (m *Memory) SoftDeleteItem(_ context.Context, itemID int64) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.itemIndex(itemID)
	if !m.live(idx) {
		return nil, db.ErrNoRows
	}
	m.deleted[itemID] = true
	m.items[idx].IsStoryLeader = false
	return cloneInt64(m.items[idx].StoryNumber), nil
}

func (m *Memory) canonicalIndex(canonicalID int64) int {
	for i := range m.canonicals {
		if m.canonicals[i].CanonicalID == canonicalID {
			return i
		}
	}
	return -1
}

func (m *Memory) activeIndex(storyNumber int64) int {
	for i := len(m.canonicals) - 1; i >= 0; i-- {
		c := m.canonicals[i]
		if c.StoryNumber == storyNumber && c.Status == db.CanonicalStatusActive {
			return i
		}
	}
	return -1
}

func (m *Memory) GetActiveCanonical(_ context.Context, storyNumber int64) (db.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetActiveCanonical"); err != nil {
		return db.CanonicalRecord{}, err
	}
	idx := m.activeIndex(storyNumber)
	if idx < 0 {
		return db.CanonicalRecord{}, db.ErrNoRows
	}
	return cloneCanonical(m.canonicals[idx]), nil
}

func (m *Memory) GetCanonical(_ context.Context, canonicalID int64) (db.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.canonicalIndex(canonicalID)
	if idx < 0 {
		return db.CanonicalRecord{}, db.ErrNoRows
	}
	return cloneCanonical(m.canonicals[idx]), nil
}

func (m *Memory) GetCanonicalByUUID(_ context.Context, canonicalUUID string) (db.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.canonicals {
		if c.CanonicalUUID == strings.TrimSpace(canonicalUUID) {
			return cloneCanonical(c), nil
		}
	}
	return db.CanonicalRecord{}, db.ErrNoRows
}

func (m *Memory) insertCanonical(params db.InsertCanonicalParams) (db.CanonicalRecord, error) {
	if m.activeIndex(params.StoryNumber) >= 0 {
		return db.CanonicalRecord{}, db.ErrConflict
	}
	now := globaltime.UTC()
	row := db.CanonicalRecord{
		CanonicalID:   m.next("canonicals"),
		CanonicalUUID: params.CanonicalUUID,
		StoryNumber:   params.StoryNumber,
		CategoryID:    cloneInt64(params.CategoryID),
		TitleEN:       params.Text.TitleEN,
		TitleKH:       params.Text.TitleKH,
		ContentEN:     params.Text.ContentEN,
		ContentKH:     params.Text.ContentKH,
		GeneratedFrom: append([]int64(nil), params.GeneratedFrom...),
		Version:       1,
		Status:        db.CanonicalStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.canonicals = append(m.canonicals, row)
	return cloneCanonical(row), nil
}

func (m *Memory) InsertCanonical(_ context.Context, params db.InsertCanonicalParams) (db.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertCanonical"); err != nil {
		return db.CanonicalRecord{}, err
	}
	return m.insertCanonical(params)
}

func (m *Memory) UpdateCanonicalContent(
	_ context.Context,
	canonicalID int64,
	expectedVersion int,
	text db.CanonicalText,
	generatedFrom []int64,
) (db.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpdateCanonicalContent"); err != nil {
		return db.CanonicalRecord{}, err
	}
	idx := m.canonicalIndex(canonicalID)
	if idx < 0 || m.canonicals[idx].Version != expectedVersion || m.canonicals[idx].Status != db.CanonicalStatusActive {
		return db.CanonicalRecord{}, db.ErrConflict
	}
	row := &m.canonicals[idx]
	row.TitleEN = text.TitleEN
	row.TitleKH = text.TitleKH
	row.ContentEN = text.ContentEN
	row.ContentKH = text.ContentKH
	row.GeneratedFrom = append([]int64(nil), generatedFrom...)
	row.Version++
	row.UpdatedAt = globaltime.UTC()
	return cloneCanonical(*row), nil
}

func (m *Memory) SupersedeCanonical(
	_ context.Context,
	priorID int64,
	expectedVersion int,
	params db.InsertCanonicalParams,
) (db.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SupersedeCanonical"); err != nil {
		return db.CanonicalRecord{}, err
	}
	idx := m.canonicalIndex(priorID)
	if idx < 0 || m.canonicals[idx].Version != expectedVersion || m.canonicals[idx].Status != db.CanonicalStatusActive {
		return db.CanonicalRecord{}, db.ErrConflict
	}
	m.canonicals[idx].Status = db.CanonicalStatusSuperseded
	created, err := m.insertCanonical(params)
	if err != nil {
		m.canonicals[idx].Status = db.CanonicalStatusActive
		return db.CanonicalRecord{}, err
	}
	return created, nil
}

func (m *Memory) SetCanonicalCategory(_ context.Context, canonicalID int64, categoryID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.canonicalIndex(canonicalID)
	if idx < 0 {
		return nil
	}
	m.canonicals[idx].CategoryID = cloneInt64(categoryID)
	return nil
}

func (m *Memory) ReplaceCanonicalTags(_ context.Context, canonicalID int64, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]bool{}
	var ids []int64
	for _, id := range tagIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	m.contentTags[canonicalID] = ids
	return nil
}

func (m *Memory) ListCanonicalTagIDs(_ context.Context, canonicalID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.contentTags[canonicalID]...), nil
}

func (m *Memory) ListCategories(_ context.Context) ([]db.CategoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.CategoryRecord(nil), m.categories...), nil
}

func (m *Memory) GetCategoryBySlug(_ context.Context, slug string) (db.CategoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Slug == strings.TrimSpace(slug) {
			return c, nil
		}
	}
	return db.CategoryRecord{}, db.ErrNoRows
}

func (m *Memory) InsertCategory(_ context.Context, nameEN, nameKH, slug string) (db.CategoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertCategory"); err != nil {
		return db.CategoryRecord{}, err
	}
	for _, c := range m.categories {
		if c.Slug == slug {
			return db.CategoryRecord{}, duplicate("insert category slug=" + slug)
		}
	}
	row := db.CategoryRecord{CategoryID: m.next("categories"), NameEN: nameEN, NameKH: nameKH, Slug: slug}
	m.categories = append(m.categories, row)
	return row, nil
}

func (m *Memory) ListActiveKeywords(_ context.Context) ([]db.KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListActiveKeywords"); err != nil {
		return nil, err
	}
	var out []db.KeywordRecord
	for _, k := range m.keywords {
		if !k.deleted && k.Weight > 0 {
			out = append(out, k.KeywordRecord)
		}
	}
	return out, nil
}

func (m *Memory) InsertKeyword(_ context.Context, row db.KeywordRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keywords {
		if !k.deleted && k.CategoryID == row.CategoryID && k.Language == row.Language &&
			strings.EqualFold(k.Keyword, row.Keyword) {
			return 0, db.ErrDuplicateKeyword
		}
	}
	row.KeywordID = m.next("keywords")
	m.keywords = append(m.keywords, keywordRow{KeywordRecord: row})
	return row.KeywordID, nil
}

func (m *Memory) GetTagBySlug(_ context.Context, slug string) (db.TagRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags {
		if t.Slug == strings.TrimSpace(slug) {
			return t, nil
		}
	}
	return db.TagRecord{}, db.ErrNoRows
}

func (m *Memory) InsertTag(_ context.Context, nameEN, nameKH, slug string) (db.TagRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertTag"); err != nil {
		return db.TagRecord{}, err
	}
	for _, t := range m.tags {
		if t.Slug == slug {
			return db.TagRecord{}, duplicate("insert tag slug=" + slug)
		}
	}
	row := db.TagRecord{TagID: m.next("tags"), NameEN: nameEN, NameKH: nameKH, Slug: slug}
	m.tags = append(m.tags, row)
	return row, nil
}

// Items returns every item, deleted ones included, in insertion order.
func (m *Memory) Items() []db.ItemRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.ItemRecord, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, cloneItem(item))
	}
	return out
}

// Canonicals returns every canonical row of a story, oldest first.
func (m *Memory) Canonicals(storyNumber int64) []db.CanonicalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.CanonicalRecord
	for _, c := range m.canonicals {
		if c.StoryNumber == storyNumber {
			out = append(out, cloneCanonical(c))
		}
	}
	return out
}

func (m *Memory) Keywords() []db.KeywordRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.KeywordRecord, 0, len(m.keywords))
	for _, k := range m.keywords {
		out = append(out, k.KeywordRecord)
	}
	return out
}

func (m *Memory) Tags() []db.TagRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.TagRecord(nil), m.tags...)
}

func (m *Memory) MediaAssets() []db.MediaAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.MediaAsset(nil), m.media...)
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneItem(item db.ItemRecord) db.ItemRecord {
	item.SourceURL = cloneString(item.SourceURL)
	item.StoryNumber = cloneInt64(item.StoryNumber)
	item.ErrorMessage = cloneString(item.ErrorMessage)
	return item
}

func cloneCanonical(c db.CanonicalRecord) db.CanonicalRecord {
	c.CategoryID = cloneInt64(c.CategoryID)
	c.GeneratedFrom = append([]int64(nil), c.GeneratedFrom...)
	return c
}
