package categorize

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/db/dbtest"
	"horse.fit/fusion/internal/inference"
	"horse.fit/fusion/internal/inference/inferencetest"
)

func seedCategory(t *testing.T, store *dbtest.Memory, nameEN, nameKH, slug string, keywords ...db.KeywordRecord) int64 {
	t.Helper()
	category, err := store.InsertCategory(context.Background(), nameEN, nameKH, slug)
	if err != nil {
		t.Fatalf("insert category: %v", err)
	}
	for _, kw := range keywords {
		kw.CategoryID = category.CategoryID
		if _, err := store.InsertKeyword(context.Background(), kw); err != nil {
			t.Fatalf("insert keyword: %v", err)
		}
	}
	return category.CategoryID
}

func keywordOnly() Config {
	cfg := DefaultConfig()
	cfg.CombineResults = false
	return cfg
}

func TestClassify_KeywordPathSkipsModel(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	politics := seedCategory(t, store, "Politics", "", "politics",
		db.KeywordRecord{Keyword: "election", Language: "en", Weight: 2},
	)
	seedCategory(t, store, "Sport", "", "sport",
		db.KeywordRecord{Keyword: "match", Language: "en", Weight: 1},
	)
	gen := inferencetest.NewScripted()
	engine := NewEngine(store, gen, keywordOnly(), zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Election day", "The election drew record turnout after a football match.")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Method != MethodKeyword || got.CategoryID == nil || *got.CategoryID != politics {
		t.Fatalf("unexpected result: %+v", got)
	}
	// 2 occurrences × weight 2, doubled for the title hit.
	if got.KeywordScore != 8 {
		t.Fatalf("unexpected score %f", got.KeywordScore)
	}
	if gen.Calls() != 0 {
		t.Fatalf("keyword path must not call the model, calls=%d", gen.Calls())
	}
}

func TestClassify_KeywordPathCombinesModelTags(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	politics := seedCategory(t, store, "Politics", "", "politics",
		db.KeywordRecord{Keyword: "election", Language: "en", Weight: 5},
	)
	gen := inferencetest.NewScripted().On(inference.TaskClassify,
		`{"category": {"en": "Whatever"}, "tags": [{"en": "Election", "kh": "ការបោះឆ្នោត"}, {"en": "election"}, {"en": " "}]}`)
	engine := NewEngine(store, gen, DefaultConfig(), zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Election day", "Polls open")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Method != MethodKeyword || *got.CategoryID != politics {
		t.Fatalf("keyword category must win: %+v", got)
	}
	if len(got.TagIDs) != 1 {
		t.Fatalf("expected one deduplicated tag, got %v", got.TagIDs)
	}
	if gen.Calls(inference.TaskClassify) != 1 {
		t.Fatalf("expected one tag call")
	}
	if !strings.Contains(gen.Requests()[0].Prompt, "category is already decided") {
		t.Fatalf("tag call must be tags-only")
	}
	if tags := store.Tags(); len(tags) != 1 || tags[0].Slug != "election" || tags[0].NameKH != "ការបោះឆ្នោត" {
		t.Fatalf("unexpected tags: %+v", tags)
	}
}

func TestClassify_ModelReusesCategoryByKhmerName(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	politics := seedCategory(t, store, "Politics", "នយោបាយ", "politics")
	gen := inferencetest.NewScripted().On(inference.TaskClassify,
		`{"category": {"en": "Government affairs", "kh": "នយោបាយ"}, "tags": []}`)
	engine := NewEngine(store, gen, DefaultConfig(), zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Cabinet reshuffle", "Three ministers replaced")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Method != MethodAI || got.IsNewCategory || *got.CategoryID != politics {
		t.Fatalf("expected reuse of existing category: %+v", got)
	}
	if !strings.Contains(gen.Requests()[0].Prompt, "- Politics / នយោបាយ") {
		t.Fatalf("existing categories must be embedded in the prompt")
	}
}

func TestClassify_ModelReusesCategoryByName(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	economy := seedCategory(t, store, "Economy", "", "econ")
	gen := inferencetest.NewScripted().On(inference.TaskClassify, `{"category": {"en": "ECONOMY"}}`)
	engine := NewEngine(store, gen, DefaultConfig(), zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Rice prices", "Exports up")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.IsNewCategory || *got.CategoryID != economy {
		t.Fatalf("expected name match: %+v", got)
	}
}

func TestClassify_NewCategoryLearnsKeywords(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	gen := inferencetest.NewScripted().On(inference.TaskClassify,
		`{"category": {"en": "Disasters", "kh": "គ្រោះមហន្តរាយ"}, "tags": [{"en": "Floods"}]}`)
	engine := NewEngine(store, gen, DefaultConfig(), zerolog.Nop())

	got, err := engine.Classify(context.Background(),
		"Floods hit Battambang province",
		"Rescue teams sent boats. Rescue boats reached villagers. Rescue continues.")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Method != MethodAI || !got.IsNewCategory || got.CategorySlug != "disasters" {
		t.Fatalf("unexpected result: %+v", got)
	}
	want := []string{"floods", "battambang", "province", "rescue", "boats"}
	if !reflect.DeepEqual(got.LearnedWords, want) {
		t.Fatalf("learned %v want %v", got.LearnedWords, want)
	}
	for _, kw := range store.Keywords() {
		if kw.CategoryID != *got.CategoryID || kw.Weight != 1 || kw.Language != "en" {
			t.Fatalf("unexpected learned keyword: %+v", kw)
		}
	}

	// The learned keywords now classify similar content without the model.
	calls := gen.Calls()
	engine.SetConfig(keywordOnly())
	again, err := engine.Classify(context.Background(), "Floods in Battambang", "Rescue boats deployed across the province")
	if err != nil {
		t.Fatalf("classify again: %v", err)
	}
	if again.Method != MethodKeyword || *again.CategoryID != *got.CategoryID || gen.Calls() != calls {
		t.Fatalf("expected keyword hit from learned words: %+v", again)
	}
}

func TestClassify_AutoLearnDisabled(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	gen := inferencetest.NewScripted().On(inference.TaskClassify, `{"category": {"en": "Health"}}`)
	cfg := DefaultConfig()
	cfg.AutoLearnKeywords = false
	engine := NewEngine(store, gen, cfg, zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Dengue cases climbing", "Hospitals prepare")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !got.IsNewCategory || len(store.Keywords()) != 0 {
		t.Fatalf("no keywords expected: %+v %+v", got, store.Keywords())
	}
}

type staleCategories struct {
	*dbtest.Memory
}

func (staleCategories) ListCategories(context.Context) ([]db.CategoryRecord, error) {
	return nil, nil
}

func TestClassify_SlugCollisionGetsSuffix(t *testing.T) {
	t.Parallel()

	mem := dbtest.NewMemory()
	seedCategory(t, mem, "Political Science", "", "politics")
	gen := inferencetest.NewScripted().On(inference.TaskClassify, `{"category": {"en": "Politics"}}`)
	engine := NewEngine(staleCategories{mem}, gen, DefaultConfig(), zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Vote", "Ballots")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !got.IsNewCategory || got.CategorySlug != "politics-1" {
		t.Fatalf("expected suffixed slug: %+v", got)
	}
}

func TestClassify_ConcurrentCreateIsReused(t *testing.T) {
	t.Parallel()

	mem := dbtest.NewMemory()
	existing := seedCategory(t, mem, "Politics", "", "politics")
	gen := inferencetest.NewScripted().On(inference.TaskClassify, `{"category": {"en": "Politics"}}`)
	engine := NewEngine(staleCategories{mem}, gen, DefaultConfig(), zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Vote", "Ballots")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.IsNewCategory || *got.CategoryID != existing {
		t.Fatalf("expected race to resolve to existing category: %+v", got)
	}
}

func TestClassify_NoFallbackMeansNone(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	gen := inferencetest.NewScripted()
	cfg := DefaultConfig()
	cfg.UseAIFallback = false
	engine := NewEngine(store, gen, cfg, zerolog.Nop())

	got, err := engine.Classify(context.Background(), "Anything", "at all")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Method != MethodNone || got.CategoryID != nil || gen.Calls() != 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestClassify_ModelFailureIsClassificationError(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	gen := inferencetest.NewScripted().Fail(inference.TaskClassify, errors.New("read: connection reset by peer"))
	engine := NewEngine(store, gen, DefaultConfig(), zerolog.Nop())

	_, err := engine.Classify(context.Background(), "Anything", "at all")
	if !errors.Is(err, ErrClassification) {
		t.Fatalf("expected ErrClassification, got %v", err)
	}
	if !strings.Contains(err.Error(), string(inference.FailureConnectionReset)) {
		t.Fatalf("error should name the failure kind: %v", err)
	}
	if len(store.Tags()) != 0 {
		t.Fatalf("failed classification must not write")
	}
}

func TestSetConfig_RejectsInvalid(t *testing.T) {
	t.Parallel()

	engine := NewEngine(dbtest.NewMemory(), nil, DefaultConfig(), zerolog.Nop())
	bad := DefaultConfig()
	bad.AutoLearnMinWeight = 0
	if err := engine.SetConfig(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if engine.Config() != DefaultConfig() {
		t.Fatalf("config must be unchanged after rejected update")
	}

	next := DefaultConfig()
	next.KeywordThreshold = 12
	if err := engine.SetConfig(next); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if engine.Config().KeywordThreshold != 12 {
		t.Fatalf("config not applied")
	}
}

func TestReclassifyContent_RewritesCategoryAndTags(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	sport := seedCategory(t, store, "Sport", "", "sport",
		db.KeywordRecord{Keyword: "football", Language: "en", Weight: 3},
	)
	record, err := store.InsertCanonical(context.Background(), db.InsertCanonicalParams{
		CanonicalUUID: "0b5c8f5e-6c1f-4a55-9d55-4d0f3f0d8c11",
		StoryNumber:   4,
		Text: db.CanonicalText{
			TitleEN:   "Football final tonight",
			ContentEN: "The football final kicks off at eight.",
			TitleKH:   "ប្រកួតបាល់ទាត់",
			ContentKH: "ប្រកួតផ្តាច់ព្រ័ត្រ",
		},
		GeneratedFrom: []int64{1},
	})
	if err != nil {
		t.Fatalf("insert canonical: %v", err)
	}

	gen := inferencetest.NewScripted().On(inference.TaskClassify, `{"category": {"en": "x"}, "tags": [{"en": "Final"}]}`)
	engine := NewEngine(store, gen, DefaultConfig(), zerolog.Nop())
	got, err := engine.ReclassifyContent(context.Background(), record.CanonicalID)
	if err != nil {
		t.Fatalf("reclassify: %v", err)
	}
	if got.Method != MethodKeyword || *got.CategoryID != sport {
		t.Fatalf("unexpected result: %+v", got)
	}

	stored, _ := store.GetCanonical(context.Background(), record.CanonicalID)
	if stored.CategoryID == nil || *stored.CategoryID != sport {
		t.Fatalf("category not written: %+v", stored.CategoryID)
	}
	if stored.TitleEN != record.TitleEN || stored.Version != record.Version {
		t.Fatalf("reclassify must not touch content or version")
	}
	tagIDs, _ := store.ListCanonicalTagIDs(context.Background(), record.CanonicalID)
	if len(tagIDs) != 1 {
		t.Fatalf("expected one tag, got %v", tagIDs)
	}
}

func TestCountOccurrences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text, term string
		exact      bool
		want       int
	}{
		{text: "rain and training", term: "rain", exact: false, want: 2},
		{text: "rain and training", term: "rain", exact: true, want: 1},
		{text: "rain, rain.", term: "rain", exact: true, want: 2},
		{text: "ទឹកជំនន់ ទឹកជំនន់", term: "ទឹកជំនន់", exact: true, want: 2},
		{text: "nothing here", term: "rain", exact: false, want: 0},
	}
	for _, tc := range cases {
		if got := countOccurrences(tc.text, tc.term, tc.exact); got != tc.want {
			t.Fatalf("countOccurrences(%q, %q, %v) = %d want %d", tc.text, tc.term, tc.exact, got, tc.want)
		}
	}
}

func TestExtractKeywords_TagsKhmerWords(t *testing.T) {
	t.Parallel()

	got := extractKeywords("ទឹកជំនន់ Floods", "")
	if len(got) != 2 || got[0] != "ទឹកជំនន់" || got[1] != "floods" {
		t.Fatalf("unexpected keywords %v", got)
	}
}
