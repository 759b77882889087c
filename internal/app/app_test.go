package app

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/categorize"
	"horse.fit/fusion/internal/config"
	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/sources"
)

func TestRunExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no command", args: nil, want: 2},
		{name: "help", args: []string{"help"}, want: 0},
		{name: "unknown command", args: []string{"explode"}, want: 2},
		{name: "ingest bad type", args: []string{"ingest", "--type", "fax"}, want: 2},
		{name: "ingest negative source", args: []string{"ingest", "--source", "-4"}, want: 2},
		{name: "ingest unknown flag", args: []string{"ingest", "--bogus"}, want: 2},
		{name: "ingest help", args: []string{"ingest", "-h"}, want: 0},
		{name: "resume zero limit", args: []string{"resume", "--limit", "0"}, want: 2},
		{name: "classify without text", args: []string{"classify", "--title", "  "}, want: 2},
		{name: "reclassify without id", args: []string{"reclassify"}, want: 2},
		{name: "delete without id", args: []string{"delete-item"}, want: 2},
		{name: "serve bad port", args: []string{"serve", "--port", "70000"}, want: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Run(tc.args); got != tc.want {
				t.Fatalf("Run(%v) = %d, want %d", tc.args, got, tc.want)
			}
		})
	}
}

func TestValidateSourceType(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"", db.SourceTypeTelegram, db.SourceTypeWebsite} {
		if err := validateSourceType(ok); err != nil {
			t.Fatalf("validateSourceType(%q) error = %v", ok, err)
		}
	}
	if err := validateSourceType("rss"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestSourceSchedulesSkipTelegramWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{ScheduleWebsite: "*/15 * * * *", ScheduleTelegram: "*/5 * * * *"}
	got := sourceSchedules(cfg)
	if len(got) != 1 || got[db.SourceTypeWebsite] != "*/15 * * * *" {
		t.Fatalf("schedules = %v", got)
	}

	cfg.TelegramBotToken = "123:abc"
	got = sourceSchedules(cfg)
	if got[db.SourceTypeTelegram] != "*/5 * * * *" {
		t.Fatalf("telegram schedule missing: %v", got)
	}
}

func TestNewFetchersRegistersTelegramOnlyWithClient(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{IngestFetchArticles: true}
	fetchers := newFetchers(cfg, nil, nil, zerolog.Nop())
	if _, err := fetchers.For(db.SourceTypeWebsite); err != nil {
		t.Fatalf("website fetcher missing: %v", err)
	}
	if _, err := fetchers.For(db.SourceTypeTelegram); err == nil {
		t.Fatalf("telegram fetcher registered without a bot token")
	}

	client := sources.NewTelegramClient("https://api.telegram.org", "123:abc", nil)
	fetchers = newFetchers(cfg, client, nil, zerolog.Nop())
	if _, err := fetchers.For(db.SourceTypeTelegram); err != nil {
		t.Fatalf("telegram fetcher missing: %v", err)
	}
}

func TestClassificationConfigFromEnv(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		ClassifyKeywordThreshold:   3,
		ClassifyUseAIFallback:      false,
		ClassifyCombineResults:     true,
		ClassifyAutoLearn:          true,
		ClassifyAutoLearnMinWeight: 0.5,
	}
	want := categorize.Config{
		KeywordThreshold:   3,
		UseAIFallback:      false,
		CombineResults:     true,
		AutoLearnKeywords:  true,
		AutoLearnMinWeight: 0.5,
	}
	if got := classificationConfig(cfg); got != want {
		t.Fatalf("classificationConfig() = %+v, want %+v", got, want)
	}
}

func TestInferenceOptionsFallback(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		InferenceEndpoint:        "http://primary:11434",
		InferenceModel:           "qwen2.5:7b-instruct",
		InferenceClassifyTimeout: time.Minute,
		InferenceGenerateTimeout: 3 * time.Minute,
	}
	opts := inferenceOptions(cfg)
	if opts.Fallback != nil {
		t.Fatalf("fallback set without config: %+v", opts.Fallback)
	}
	if opts.Primary.URL != "http://primary:11434" || opts.GenerateTimeout != 3*time.Minute {
		t.Fatalf("primary options = %+v", opts)
	}

	cfg.InferenceFallbackModel = "llama3.1:8b"
	opts = inferenceOptions(cfg)
	if opts.Fallback == nil || opts.Fallback.Model != "llama3.1:8b" {
		t.Fatalf("fallback = %+v", opts.Fallback)
	}
}
