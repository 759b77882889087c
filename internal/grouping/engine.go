// Package grouping decides which story an incoming item belongs to. Recent
// stories are scanned newest first and the first one the model judges to be
// the same event wins; otherwise a new story number is allocated.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/globaltime"
	"horse.fit/fusion/internal/inference"
	"horse.fit/fusion/internal/metrics"
	"horse.fit/fusion/internal/textutil"
)

const (
	DefaultLookbackDays  = 7
	DefaultThreshold     = 0.75
	DefaultMaxCandidates = 20
	candidateScanLimit   = 200
)

// Store is the persistence the engine needs.
type Store interface {
	GetItemStoryNumber(ctx context.Context, itemID int64) (*int64, error)
	ListStoryCandidates(ctx context.Context, since time.Time, excludeSourceID *int64, limit int) ([]db.StoryCandidate, error)
	CreateStoryForItem(ctx context.Context, itemID int64) (int64, error)
	AttachItemToStory(ctx context.Context, itemID, storyNumber int64) error
	PromoteStoryLeader(ctx context.Context, storyNumber int64) (int64, error)
}

type Options struct {
	LookbackDays int
	// Threshold is the similarity a candidate must exceed to match.
	Threshold float64
	// MaxCandidates caps inference calls per item; extra candidates are
	// dropped by local cosine rank.
	MaxCandidates int
}

type Request struct {
	// ItemID is the persisted item being grouped. Zero runs a dry assignment
	// that allocates a number without attaching anything.
	ItemID          int64
	Title           string
	Content         string
	ExcludeSourceID *int64
}

type Assignment struct {
	StoryNumber   int64
	IsNewStory    bool
	MatchedItemID int64
	Similarity    float64
	Judged        int
}

type Engine struct {
	store  Store
	gen    inference.Generator
	opts   Options
	logger zerolog.Logger

	// allocMu serializes allocation within the process; the store serializes
	// across processes.
	allocMu sync.Mutex
}

func NewEngine(store Store, gen inference.Generator, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		gen:    gen,
		opts:   normalizeOptions(opts),
		logger: logger,
	}
}

func normalizeOptions(opts Options) Options {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	return opts
}

// AssignStory finds or creates the story for an item. Inference failures on
// individual candidates count as non-matches, so the worst outcome is a new
// story. Only storage failures and cancellation return an error.
func (e *Engine) AssignStory(ctx context.Context, req Request) (Assignment, error) {
	if e == nil || e.store == nil {
		return Assignment{}, fmt.Errorf("grouping engine is not initialized")
	}

	if req.ItemID > 0 {
		existing, err := e.store.GetItemStoryNumber(ctx, req.ItemID)
		if err != nil {
			return Assignment{}, fmt.Errorf("load item story item_id=%d: %w", req.ItemID, err)
		}
		if existing != nil {
			return Assignment{StoryNumber: *existing}, nil
		}
	}

	since := globaltime.WindowStart(e.opts.LookbackDays)
	candidates, err := e.store.ListStoryCandidates(ctx, since, req.ExcludeSourceID, candidateScanLimit)
	if err != nil {
		if ctx.Err() != nil {
			return Assignment{}, ctx.Err()
		}
		e.logger.Warn().Err(err).Int64("item_id", req.ItemID).Msg("story candidate lookup failed, creating new story")
		candidates = nil
	}
	candidates = e.prefilter(req, candidates)

	incoming := inference.Text{Title: req.Title, Content: req.Content}
	judged := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return Assignment{}, err
		}
		if candidate.ItemID == req.ItemID {
			continue
		}

		judgment, err := inference.JudgeSimilarity(ctx, e.gen, incoming, inference.Text{
			Title:   candidate.Title,
			Content: candidate.Content,
		})
		judged++
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("failure_kind", string(inference.Classify(err))).
				Int64("item_id", req.ItemID).
				Int64("candidate_item_id", candidate.ItemID).
				Int64("story_number", candidate.StoryNumber).
				Msg("similarity judgment failed, treating as non-match")
			continue
		}

		score := judgment.Score()
		if score <= e.opts.Threshold {
			continue
		}

		storyNumber, err := e.attach(ctx, req.ItemID, candidate.StoryNumber)
		if err != nil {
			return Assignment{}, err
		}
		metrics.RecordStoryAssignment(false)
		e.logger.Info().
			Int64("item_id", req.ItemID).
			Int64("story_number", storyNumber).
			Int64("matched_item_id", candidate.ItemID).
			Float64("similarity", score).
			Int("judged", judged).
			Msg("item joined existing story")
		return Assignment{
			StoryNumber:   storyNumber,
			MatchedItemID: candidate.ItemID,
			Similarity:    score,
			Judged:        judged,
		}, nil
	}

	storyNumber, isNew, err := e.allocate(ctx, req.ItemID)
	if err != nil {
		return Assignment{}, err
	}
	metrics.RecordStoryAssignment(isNew)
	e.logger.Info().
		Int64("item_id", req.ItemID).
		Int64("story_number", storyNumber).
		Bool("is_new_story", isNew).
		Int("judged", judged).
		Msg("story assigned")
	return Assignment{StoryNumber: storyNumber, IsNewStory: isNew, Judged: judged}, nil
}

func (e *Engine) attach(ctx context.Context, itemID, storyNumber int64) (int64, error) {
	if itemID <= 0 {
		return storyNumber, nil
	}
	err := e.store.AttachItemToStory(ctx, itemID, storyNumber)
	if err == nil {
		return storyNumber, nil
	}
	if !errors.Is(err, db.ErrConflict) {
		return 0, fmt.Errorf("attach item to story: %w", err)
	}
	// Someone else grouped this item first; keep their answer.
	existing, lookupErr := e.store.GetItemStoryNumber(ctx, itemID)
	if lookupErr != nil || existing == nil {
		return 0, fmt.Errorf("attach item to story: %w", err)
	}
	return *existing, nil
}

func (e *Engine) allocate(ctx context.Context, itemID int64) (int64, bool, error) {
	e.allocMu.Lock()
	defer e.allocMu.Unlock()

	storyNumber, err := e.store.CreateStoryForItem(ctx, itemID)
	if err == nil {
		return storyNumber, true, nil
	}
	if !errors.Is(err, db.ErrConflict) || itemID <= 0 {
		return 0, false, fmt.Errorf("allocate story number: %w", err)
	}
	existing, lookupErr := e.store.GetItemStoryNumber(ctx, itemID)
	if lookupErr != nil || existing == nil {
		return 0, false, fmt.Errorf("allocate story number: %w", err)
	}
	return *existing, false, nil
}

// prefilter keeps the MaxCandidates candidates closest to the incoming text by
// token cosine, preserving the newest-first scan order among them.
func (e *Engine) prefilter(req Request, candidates []db.StoryCandidate) []db.StoryCandidate {
	if len(candidates) <= e.opts.MaxCandidates {
		return candidates
	}

	incoming := textutil.TermFrequencies(textutil.Tokenize(req.Title + " " + req.Content))
	type ranked struct {
		index int
		score float64
	}
	ranks := make([]ranked, len(candidates))
	for i, candidate := range candidates {
		other := textutil.TermFrequencies(textutil.Tokenize(candidate.Title + " " + candidate.Content))
		ranks[i] = ranked{index: i, score: textutil.CosineFrequencies(incoming, other)}
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		return ranks[i].score > ranks[j].score
	})

	keep := make([]int, 0, e.opts.MaxCandidates)
	for _, r := range ranks[:e.opts.MaxCandidates] {
		keep = append(keep, r.index)
	}
	sort.Ints(keep)

	out := make([]db.StoryCandidate, 0, len(keep))
	for _, idx := range keep {
		out = append(out, candidates[idx])
	}
	return out
}

// PromoteLeader restores the one-leader invariant after a leader was removed:
// the oldest live item of the story becomes leader.
func (e *Engine) PromoteLeader(ctx context.Context, storyNumber int64) (int64, error) {
	if e == nil || e.store == nil {
		return 0, fmt.Errorf("grouping engine is not initialized")
	}
	leaderID, err := e.store.PromoteStoryLeader(ctx, storyNumber)
	if err != nil {
		return 0, fmt.Errorf("promote leader story=%d: %w", storyNumber, err)
	}
	e.logger.Info().Int64("story_number", storyNumber).Int64("leader_item_id", leaderID).Msg("story leader ensured")
	return leaderID, nil
}
