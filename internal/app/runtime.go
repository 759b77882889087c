package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/categorize"
	"horse.fit/fusion/internal/cli"
	"horse.fit/fusion/internal/config"
	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/fusion"
	"horse.fit/fusion/internal/grouping"
	"horse.fit/fusion/internal/inference"
	"horse.fit/fusion/internal/ingest"
	"horse.fit/fusion/internal/logging"
	"horse.fit/fusion/internal/media"
	"horse.fit/fusion/internal/sources"
)

// loadRuntime loads the env file, config and logger shared by every command.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

// pipeline holds the wired engines for one process.
type pipeline struct {
	categorizer *categorize.Engine
	grouper     *grouping.Engine
	fuser       *fusion.Engine
	ingest      *ingest.Service
	redis       *redis.Client
}

func (p *pipeline) Close() {
	if p != nil && p.redis != nil {
		_ = p.redis.Close()
	}
}

func newPipeline(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger) *pipeline {
	out := &pipeline{}

	var gen inference.Generator = inference.NewClient(inferenceOptions(cfg), logger.With().Str("component", "inference").Logger())
	if cfg.CacheEnabled() {
		client, err := inference.NewRedisClient(ctx, cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// The cache only adds determinism on re-processing.
			logger.Warn().Err(err).Msg("inference cache disabled")
		} else {
			out.redis = client
			gen = inference.NewCachedGenerator(gen, client, cfg.InferenceModel, cfg.InferenceCacheTTL, logger)
		}
	}

	out.categorizer = categorize.NewEngine(pool, gen, classificationConfig(cfg), logger.With().Str("component", "categorize").Logger())
	out.grouper = grouping.NewEngine(pool, gen, grouping.Options{
		LookbackDays:  cfg.GroupingLookbackDays,
		Threshold:     cfg.GroupingThreshold,
		MaxCandidates: cfg.GroupingMaxCandidates,
	}, logger.With().Str("component", "grouping").Logger())
	out.fuser = fusion.NewEngine(pool, gen, out.categorizer, fusion.Thresholds{
		Similarity: float64(cfg.FusionSimilarityCutoff),
		Update:     float64(cfg.FusionUpdateCutoff),
	}, logger.With().Str("component", "fusion").Logger())

	httpClient := &http.Client{Timeout: 60 * time.Second}
	var telegram *sources.TelegramClient
	if strings.TrimSpace(cfg.TelegramBotToken) != "" {
		telegram = sources.NewTelegramClient(cfg.TelegramAPIBase, cfg.TelegramBotToken, httpClient)
	}
	fetchers := newFetchers(cfg, telegram, httpClient, logger)

	var files media.TelegramFiles
	if telegram != nil {
		files = telegram
	}
	mediaPipeline := media.NewPipeline(
		media.NewDownloader(httpClient, files),
		media.LocalUploader{Dir: cfg.MediaUploadTarget},
		pool,
		logger.With().Str("component", "media").Logger(),
	)

	out.ingest = ingest.NewService(pool, fetchers, out.grouper, out.fuser, mediaPipeline, ingest.Options{
		FetchLimit:       cfg.IngestFetchLimit,
		MinContentLength: cfg.IngestMinContentLength,
		ExcludeOwnSource: cfg.IngestExcludeOwnSource,
	}, logger.With().Str("component", "ingest").Logger())
	return out
}

func newFetchers(cfg *config.Config, telegram *sources.TelegramClient, httpClient *http.Client, logger zerolog.Logger) sources.Registry {
	fetchers := sources.Registry{
		db.SourceTypeWebsite: sources.NewFeedFetcher(sources.FeedOptions{
			HTTPClient:    httpClient,
			FetchArticles: cfg.IngestFetchArticles,
		}, logger.With().Str("component", "feed").Logger()),
	}
	if telegram != nil {
		fetchers[db.SourceTypeTelegram] = sources.NewTelegramFetcher(telegram)
	}
	return fetchers
}

func inferenceOptions(cfg *config.Config) inference.ClientOptions {
	opts := inference.ClientOptions{
		Primary: inference.Endpoint{
			URL:   cfg.InferenceEndpoint,
			Model: cfg.InferenceModel,
		},
		ClassifyTimeout: cfg.InferenceClassifyTimeout,
		GenerateTimeout: cfg.InferenceGenerateTimeout,
	}
	if strings.TrimSpace(cfg.InferenceFallbackEndpoint) != "" || strings.TrimSpace(cfg.InferenceFallbackModel) != "" {
		opts.Fallback = &inference.Endpoint{
			URL:   cfg.InferenceFallbackEndpoint,
			Model: cfg.InferenceFallbackModel,
		}
	}
	return opts
}

func classificationConfig(cfg *config.Config) categorize.Config {
	return categorize.Config{
		KeywordThreshold:   cfg.ClassifyKeywordThreshold,
		UseAIFallback:      cfg.ClassifyUseAIFallback,
		CombineResults:     cfg.ClassifyCombineResults,
		AutoLearnKeywords:  cfg.ClassifyAutoLearn,
		AutoLearnMinWeight: cfg.ClassifyAutoLearnMinWeight,
	}
}

// sourceSchedules maps each source type to its cron spec.
func sourceSchedules(cfg *config.Config) map[string]string {
	schedules := map[string]string{
		db.SourceTypeWebsite: cfg.ScheduleWebsite,
	}
	if strings.TrimSpace(cfg.TelegramBotToken) != "" {
		schedules[db.SourceTypeTelegram] = cfg.ScheduleTelegram
	}
	return schedules
}
