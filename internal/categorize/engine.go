// Package categorize assigns a category and tags to canonical content using
// weighted keywords first and the language model as a fallback.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/inference"
	"horse.fit/fusion/internal/langdetect"
	"horse.fit/fusion/internal/metrics"
	"horse.fit/fusion/internal/textutil"
)

// ErrClassification wraps every language model failure during Classify. The
// failure kind is logged; callers only see this sentinel.
var ErrClassification = errors.New("classification failed")

type Method string

const (
	MethodKeyword Method = "keyword"
	MethodAI      Method = "ai"
	MethodNone    Method = "none"
)

const maxSlugAttempts = 50

type Config struct {
	KeywordThreshold   float64 `json:"keyword_threshold"`
	UseAIFallback      bool    `json:"use_ai_fallback"`
	CombineResults     bool    `json:"combine_results"`
	AutoLearnKeywords  bool    `json:"auto_learn_keywords"`
	AutoLearnMinWeight float64 `json:"auto_learn_min_weight"`
}

func DefaultConfig() Config {
	return Config{
		KeywordThreshold:   5,
		UseAIFallback:      true,
		CombineResults:     true,
		AutoLearnKeywords:  true,
		AutoLearnMinWeight: 1,
	}
}

func (c Config) Validate() error {
	if c.KeywordThreshold < 0 {
		return fmt.Errorf("keyword_threshold must be >= 0")
	}
	if c.AutoLearnMinWeight <= 0 {
		return fmt.Errorf("auto_learn_min_weight must be > 0")
	}
	return nil
}

type Result struct {
	CategoryID    *int64   `json:"category_id"`
	CategorySlug  string   `json:"category_slug,omitempty"`
	TagIDs        []int64  `json:"tag_ids"`
	Method        Method   `json:"method"`
	IsNewCategory bool     `json:"is_new_category"`
	KeywordScore  float64  `json:"keyword_score"`
	LearnedWords  []string `json:"learned_keywords,omitempty"`
}

type Store interface {
	ListCategories(ctx context.Context) ([]db.CategoryRecord, error)
	GetCategoryBySlug(ctx context.Context, slug string) (db.CategoryRecord, error)
	InsertCategory(ctx context.Context, nameEN, nameKH, slug string) (db.CategoryRecord, error)
	ListActiveKeywords(ctx context.Context) ([]db.KeywordRecord, error)
	InsertKeyword(ctx context.Context, row db.KeywordRecord) (int64, error)
	GetTagBySlug(ctx context.Context, slug string) (db.TagRecord, error)
	InsertTag(ctx context.Context, nameEN, nameKH, slug string) (db.TagRecord, error)
	GetCanonical(ctx context.Context, canonicalID int64) (db.CanonicalRecord, error)
	SetCanonicalCategory(ctx context.Context, canonicalID int64, categoryID *int64) error
	ReplaceCanonicalTags(ctx context.Context, canonicalID int64, tagIDs []int64) error
}

type Engine struct {
	store  Store
	gen    inference.Generator
	logger zerolog.Logger

	mu  sync.RWMutex
	cfg Config
}

func NewEngine(store Store, gen inference.Generator, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{store: store, gen: gen, cfg: cfg, logger: logger}
}

// Config returns the configuration in effect.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig replaces the configuration for subsequent calls.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info().
		Float64("keyword_threshold", cfg.KeywordThreshold).
		Bool("use_ai_fallback", cfg.UseAIFallback).
		Bool("combine_results", cfg.CombineResults).
		Bool("auto_learn_keywords", cfg.AutoLearnKeywords).
		Msg("classification config updated")
	return nil
}

// Classify picks a category and tags for title and content.
func (e *Engine) Classify(ctx context.Context, title, content string) (Result, error) {
	if e == nil || e.store == nil {
		return Result{}, fmt.Errorf("categorize engine is not initialized")
	}
	cfg := e.Config()

	keywords, err := e.store.ListActiveKeywords(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load keywords: %w", err)
	}
	best, _ := newKeywordIndex(keywords).score(title, content)

	if best.Score > 0 && best.Score >= cfg.KeywordThreshold {
		categoryID := best.CategoryID
		result := Result{CategoryID: &categoryID, Method: MethodKeyword, KeywordScore: best.Score}
		if cfg.CombineResults {
			tagIDs, err := e.tagsFromModel(ctx, title, content)
			if err != nil {
				return Result{}, err
			}
			result.TagIDs = tagIDs
		}
		e.record(result)
		return result, nil
	}

	if !cfg.UseAIFallback {
		result := Result{Method: MethodNone, KeywordScore: best.Score}
		e.record(result)
		return result, nil
	}

	categories, err := e.store.ListCategories(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load categories: %w", err)
	}
	existing := make([]inference.Name, 0, len(categories))
	for _, c := range categories {
		existing = append(existing, inference.Name{EN: c.NameEN, KH: c.NameKH})
	}

	classification, err := inference.ClassifyContent(ctx, e.gen, inference.Text{Title: title, Content: content}, existing, false)
	if err != nil {
		return Result{}, e.classificationError(err)
	}

	category, created, err := e.resolveCategory(ctx, classification.Category, categories)
	if err != nil {
		return Result{}, err
	}
	tagIDs, err := e.resolveTags(ctx, classification.Tags)
	if err != nil {
		return Result{}, err
	}

	categoryID := category.CategoryID
	result := Result{
		CategoryID:    &categoryID,
		CategorySlug:  category.Slug,
		TagIDs:        tagIDs,
		Method:        MethodAI,
		IsNewCategory: created,
		KeywordScore:  best.Score,
	}
	if created && cfg.AutoLearnKeywords {
		result.LearnedWords = e.learnKeywords(ctx, category.CategoryID, title, content, cfg.AutoLearnMinWeight)
	}
	e.record(result)
	return result, nil
}

func (e *Engine) record(result Result) {
	metrics.RecordClassification(string(result.Method))
	evt := e.logger.Debug().
		Str("method", string(result.Method)).
		Float64("keyword_score", result.KeywordScore).
		Bool("is_new_category", result.IsNewCategory).
		Int("tags", len(result.TagIDs))
	if result.CategoryID != nil {
		evt = evt.Int64("category_id", *result.CategoryID)
	}
	evt.Msg("content classified")
}

func (e *Engine) classificationError(err error) error {
	kind := inference.Classify(err)
	e.logger.Warn().Err(err).Str("failure_kind", string(kind)).Msg("classification call failed")
	return fmt.Errorf("%w (%s): %v", ErrClassification, kind, err)
}

func (e *Engine) tagsFromModel(ctx context.Context, title, content string) ([]int64, error) {
	classification, err := inference.ClassifyContent(ctx, e.gen, inference.Text{Title: title, Content: content}, nil, true)
	if err != nil {
		return nil, e.classificationError(err)
	}
	return e.resolveTags(ctx, classification.Tags)
}

// resolveCategory reuses an existing category by slug, English name or Khmer
// name, in that order, and creates one otherwise.
func (e *Engine) resolveCategory(ctx context.Context, name inference.Name, categories []db.CategoryRecord) (db.CategoryRecord, bool, error) {
	slug := textutil.Slugify(name.EN)
	for _, c := range categories {
		if c.Slug == slug {
			return c, false, nil
		}
	}
	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(c.NameEN), name.EN) {
			return c, false, nil
		}
	}
	if name.KH != "" {
		for _, c := range categories {
			if strings.TrimSpace(c.NameKH) == name.KH {
				return c, false, nil
			}
		}
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		candidate := slug
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", slug, attempt)
		}
		created, err := e.store.InsertCategory(ctx, name.EN, name.KH, candidate)
		if err == nil {
			e.logger.Info().Int64("category_id", created.CategoryID).Str("slug", created.Slug).Msg("category created")
			return created, true, nil
		}
		if !db.IsUniqueViolation(err) {
			return db.CategoryRecord{}, false, fmt.Errorf("create category: %w", err)
		}
		// A concurrent call may have created the same category.
		existing, lookupErr := e.store.GetCategoryBySlug(ctx, candidate)
		if lookupErr == nil && strings.EqualFold(existing.NameEN, name.EN) {
			return existing, false, nil
		}
	}
	return db.CategoryRecord{}, false, fmt.Errorf("create category %q: no free slug after %d attempts", name.EN, maxSlugAttempts)
}

func (e *Engine) resolveTags(ctx context.Context, names []inference.Name) ([]int64, error) {
	seen := map[int64]struct{}{}
	var out []int64
	for _, name := range names {
		tag, err := e.getOrCreateTag(ctx, name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[tag.TagID]; ok {
			continue
		}
		seen[tag.TagID] = struct{}{}
		out = append(out, tag.TagID)
	}
	return out, nil
}

func (e *Engine) getOrCreateTag(ctx context.Context, name inference.Name) (db.TagRecord, error) {
	slug := textutil.Slugify(name.EN)
	tag, err := e.store.GetTagBySlug(ctx, slug)
	if err == nil {
		return tag, nil
	}
	if !db.IsNoRows(err) {
		return db.TagRecord{}, fmt.Errorf("load tag %s: %w", slug, err)
	}

	tag, err = e.store.InsertTag(ctx, name.EN, name.KH, slug)
	if err == nil {
		return tag, nil
	}
	if !db.IsUniqueViolation(err) {
		return db.TagRecord{}, fmt.Errorf("create tag %s: %w", slug, err)
	}
	tag, err = e.store.GetTagBySlug(ctx, slug)
	if err != nil {
		return db.TagRecord{}, fmt.Errorf("reload tag %s: %w", slug, err)
	}
	return tag, nil
}

func (e *Engine) learnKeywords(ctx context.Context, categoryID int64, title, content string, weight float64) []string {
	var learned []string
	for _, word := range extractKeywords(title, content) {
		_, err := e.store.InsertKeyword(ctx, db.KeywordRecord{
			CategoryID:   categoryID,
			Keyword:      word,
			Language:     langdetect.KeywordLanguage(word),
			Weight:       weight,
			IsExactMatch: true,
		})
		if err != nil {
			if !errors.Is(err, db.ErrDuplicateKeyword) {
				e.logger.Warn().Err(err).Int64("category_id", categoryID).Str("keyword", word).Msg("learn keyword failed")
			}
			continue
		}
		learned = append(learned, word)
	}
	if len(learned) > 0 {
		e.logger.Info().Int64("category_id", categoryID).Strs("keywords", learned).Msg("keywords learned")
	}
	return learned
}

// ReclassifyContent re-runs Classify on stored canonical content and
// rewrites only its category and tag links.
func (e *Engine) ReclassifyContent(ctx context.Context, canonicalID int64) (Result, error) {
	if e == nil || e.store == nil {
		return Result{}, fmt.Errorf("categorize engine is not initialized")
	}
	record, err := e.store.GetCanonical(ctx, canonicalID)
	if err != nil {
		return Result{}, err
	}
	result, err := e.Classify(ctx, record.TitleEN, record.ContentEN)
	if err != nil {
		return Result{}, err
	}
	if result.Method == MethodNone {
		return result, nil
	}
	if err := e.store.SetCanonicalCategory(ctx, canonicalID, result.CategoryID); err != nil {
		return Result{}, err
	}
	if result.TagIDs != nil || result.Method == MethodAI {
		if err := e.store.ReplaceCanonicalTags(ctx, canonicalID, result.TagIDs); err != nil {
			return Result{}, err
		}
	}
	e.logger.Info().Int64("canonical_id", canonicalID).Str("method", string(result.Method)).Msg("content reclassified")
	return result, nil
}
