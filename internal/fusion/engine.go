// Package fusion keeps one canonical bilingual article per story. Each new
// item either creates it, is merged into it, replaces it with a new version,
// or is skipped.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/categorize"
	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/inference"
	"horse.fit/fusion/internal/metrics"
)

// ErrMissingStoryNumber means grouping has not run for the item.
var ErrMissingStoryNumber = errors.New("item has no story number")

type Action string

const (
	ActionCreated           Action = "created"
	ActionUpdated           Action = "updated"
	ActionCreatedNewVersion Action = "created_new_version"
	ActionSkipped           Action = "skipped"
)

// conflictRetries bounds re-reads after another writer changed the canonical
// row between our read and write.
const conflictRetries = 2

type Store interface {
	GetActiveCanonical(ctx context.Context, storyNumber int64) (db.CanonicalRecord, error)
	InsertCanonical(ctx context.Context, params db.InsertCanonicalParams) (db.CanonicalRecord, error)
	UpdateCanonicalContent(ctx context.Context, canonicalID int64, expectedVersion int, text db.CanonicalText, generatedFrom []int64) (db.CanonicalRecord, error)
	SupersedeCanonical(ctx context.Context, priorID int64, expectedVersion int, params db.InsertCanonicalParams) (db.CanonicalRecord, error)
	ReplaceCanonicalTags(ctx context.Context, canonicalID int64, tagIDs []int64) error
	ListCanonicalTagIDs(ctx context.Context, canonicalID int64) ([]int64, error)
}

// Categorizer assigns a category and tags to freshly generated content.
type Categorizer interface {
	Classify(ctx context.Context, title, content string) (categorize.Result, error)
}

type Result struct {
	Action        Action
	StoryNumber   int64
	CanonicalID   int64
	CanonicalUUID string
	Version       int
	Reason        string
	Difference    float64
}

type Engine struct {
	store       Store
	gen         inference.Generator
	categorizer Categorizer
	thresholds  Thresholds
	logger      zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*storyLock
}

type storyLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine builds a fusion engine. categorizer may be nil, in which case
// created content stays uncategorized.
func NewEngine(store Store, gen inference.Generator, categorizer Categorizer, thresholds Thresholds, logger zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		gen:         gen,
		categorizer: categorizer,
		thresholds:  thresholds.normalized(),
		logger:      logger,
		locks:       map[int64]*storyLock{},
	}
}

// lockStory serializes fusion per story; different stories proceed in
// parallel.
func (e *Engine) lockStory(storyNumber int64) func() {
	e.mu.Lock()
	lock, ok := e.locks[storyNumber]
	if !ok {
		lock = &storyLock{}
		e.locks[storyNumber] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, storyNumber)
		}
		e.mu.Unlock()
	}
}

// Fuse folds a grouped item into its story's canonical content.
func (e *Engine) Fuse(ctx context.Context, item db.ItemRecord) (Result, error) {
	if e == nil || e.store == nil {
		return Result{}, fmt.Errorf("fusion engine is not initialized")
	}
	if item.StoryNumber == nil {
		return Result{}, fmt.Errorf("fuse item_id=%d: %w", item.ItemID, ErrMissingStoryNumber)
	}
	storyNumber := *item.StoryNumber

	unlock := e.lockStory(storyNumber)
	defer unlock()

	var (
		result Result
		err    error
	)
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		result, err = e.fuseOnce(ctx, item, storyNumber)
		if !errors.Is(err, db.ErrConflict) {
			break
		}
		e.logger.Warn().
			Int64("item_id", item.ItemID).
			Int64("story_number", storyNumber).
			Int("attempt", attempt+1).
			Msg("canonical content changed concurrently, retrying")
	}
	if err != nil {
		return Result{}, err
	}

	metrics.RecordFusionAction(string(result.Action))
	e.logger.Info().
		Int64("item_id", item.ItemID).
		Int64("story_number", storyNumber).
		Int64("canonical_id", result.CanonicalID).
		Str("action", string(result.Action)).
		Int("version", result.Version).
		Str("reason", result.Reason).
		Msg("item fused")
	return result, nil
}

func (e *Engine) fuseOnce(ctx context.Context, item db.ItemRecord, storyNumber int64) (Result, error) {
	current, err := e.store.GetActiveCanonical(ctx, storyNumber)
	hasCanonical := true
	if err != nil {
		if !db.IsNoRows(err) {
			return Result{}, fmt.Errorf("load canonical story=%d: %w", storyNumber, err)
		}
		hasCanonical = false
	}

	judgment := inference.DifferenceJudgment{}
	if hasCanonical {
		if containsID(current.GeneratedFrom, item.ItemID) {
			return skipped(current, "item already fused", 0), nil
		}
		judgment = e.judge(ctx, current, item)
	}

	decision, reason := Decide(hasCanonical, judgment, e.thresholds)
	switch decision {
	case DecisionCreate:
		return e.create(ctx, item, storyNumber, reason)
	case DecisionSkip:
		return skipped(current, reason, judgment.Difference), nil
	case DecisionUpdate:
		return e.update(ctx, item, current, reason, judgment.Difference)
	case DecisionNewVersion:
		return e.newVersion(ctx, item, current, reason, judgment.Difference)
	default:
		return Result{}, fmt.Errorf("unknown fusion decision %s", decision)
	}
}

func (e *Engine) judge(ctx context.Context, current db.CanonicalRecord, item db.ItemRecord) inference.DifferenceJudgment {
	judgment, err := inference.JudgeDifference(ctx, e.gen,
		inference.Text{Title: current.TitleEN, Content: current.ContentEN},
		inference.Text{Title: item.Title, Content: item.Content},
	)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("failure_kind", string(inference.Classify(err))).
			Int64("item_id", item.ItemID).
			Int64("canonical_id", current.CanonicalID).
			Msg("difference judgment failed, assuming new information")
		return fallbackJudgment
	}
	return judgment
}

func (e *Engine) create(ctx context.Context, item db.ItemRecord, storyNumber int64, reason string) (Result, error) {
	content, err := inference.GenerateBilingual(ctx, e.gen, inference.Text{Title: item.Title, Content: item.Content})
	if err != nil {
		return Result{}, fmt.Errorf("create canonical story=%d: %w", storyNumber, err)
	}

	classification := e.classify(ctx, item.ItemID, content)
	record, err := e.store.InsertCanonical(ctx, db.InsertCanonicalParams{
		CanonicalUUID: uuid.NewString(),
		StoryNumber:   storyNumber,
		CategoryID:    classification.CategoryID,
		Text:          canonicalText(content),
		GeneratedFrom: []int64{item.ItemID},
	})
	if err != nil {
		return Result{}, err
	}
	e.attachTags(ctx, record.CanonicalID, classification.TagIDs)
	return resultFrom(ActionCreated, record, reason, 0), nil
}

func (e *Engine) classify(ctx context.Context, itemID int64, content inference.BilingualContent) categorize.Result {
	if e.categorizer == nil {
		return categorize.Result{}
	}
	result, err := e.categorizer.Classify(ctx, content.TitleEN, content.ContentEN)
	if err != nil {
		e.logger.Warn().Err(err).Int64("item_id", itemID).Msg("categorization failed, storing uncategorized")
		return categorize.Result{}
	}
	return result
}

func (e *Engine) attachTags(ctx context.Context, canonicalID int64, tagIDs []int64) {
	if len(tagIDs) == 0 {
		return
	}
	if err := e.store.ReplaceCanonicalTags(ctx, canonicalID, tagIDs); err != nil {
		e.logger.Warn().Err(err).Int64("canonical_id", canonicalID).Msg("attach tags failed")
	}
}

func (e *Engine) update(ctx context.Context, item db.ItemRecord, current db.CanonicalRecord, reason string, difference float64) (Result, error) {
	existing := inference.BilingualContent{
		TitleEN:   current.TitleEN,
		ContentEN: current.ContentEN,
		TitleKH:   current.TitleKH,
		ContentKH: current.ContentKH,
	}
	merged, err := inference.MergeBilingual(ctx, e.gen, existing, inference.Text{Title: item.Title, Content: item.Content})
	if err != nil {
		return Result{}, fmt.Errorf("update canonical_id=%d: %w", current.CanonicalID, err)
	}

	// Merges may drop a language; keep the prior text rather than blanking it.
	text := db.CanonicalText{
		TitleEN:   firstNonEmpty(merged.TitleEN, current.TitleEN),
		ContentEN: firstNonEmpty(merged.ContentEN, current.ContentEN),
		TitleKH:   firstNonEmpty(merged.TitleKH, current.TitleKH),
		ContentKH: firstNonEmpty(merged.ContentKH, current.ContentKH),
	}
	record, err := e.store.UpdateCanonicalContent(ctx, current.CanonicalID, current.Version, text, appendID(current.GeneratedFrom, item.ItemID))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(ActionUpdated, record, reason, difference), nil
}

func (e *Engine) newVersion(ctx context.Context, item db.ItemRecord, current db.CanonicalRecord, reason string, difference float64) (Result, error) {
	content, err := inference.GenerateBilingual(ctx, e.gen, inference.Text{Title: item.Title, Content: item.Content})
	if err != nil {
		return Result{}, fmt.Errorf("new version of canonical_id=%d: %w", current.CanonicalID, err)
	}

	record, err := e.store.SupersedeCanonical(ctx, current.CanonicalID, current.Version, db.InsertCanonicalParams{
		CanonicalUUID: uuid.NewString(),
		StoryNumber:   current.StoryNumber,
		CategoryID:    current.CategoryID,
		Text:          canonicalText(content),
		GeneratedFrom: appendID(current.GeneratedFrom, item.ItemID),
	})
	if err != nil {
		return Result{}, err
	}

	tagIDs, err := e.store.ListCanonicalTagIDs(ctx, current.CanonicalID)
	if err != nil {
		e.logger.Warn().Err(err).Int64("canonical_id", current.CanonicalID).Msg("load prior tags failed")
	}
	e.attachTags(ctx, record.CanonicalID, tagIDs)
	return resultFrom(ActionCreatedNewVersion, record, reason, difference), nil
}

func skipped(current db.CanonicalRecord, reason string, difference float64) Result {
	return resultFrom(ActionSkipped, current, reason, difference)
}

func resultFrom(action Action, record db.CanonicalRecord, reason string, difference float64) Result {
	return Result{
		Action:        action,
		StoryNumber:   record.StoryNumber,
		CanonicalID:   record.CanonicalID,
		CanonicalUUID: record.CanonicalUUID,
		Version:       record.Version,
		Reason:        reason,
		Difference:    difference,
	}
}

func canonicalText(content inference.BilingualContent) db.CanonicalText {
	return db.CanonicalText{
		TitleEN:   content.TitleEN,
		TitleKH:   content.TitleKH,
		ContentEN: content.ContentEN,
		ContentKH: content.ContentKH,
	}
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// appendID returns a copy of ids with id added once at the end.
func appendID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids)+1)
	seen := make(map[int64]struct{}, len(ids)+1)
	for _, existing := range ids {
		if _, ok := seen[existing]; ok {
			continue
		}
		seen[existing] = struct{}{}
		out = append(out, existing)
	}
	if _, ok := seen[id]; !ok {
		out = append(out, id)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
