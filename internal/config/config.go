package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"FUSION_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"FUSION_DB_MAX_CONNS" default:"8"`

	InferenceEndpoint         string        `envconfig:"INFERENCE_ENDPOINT" default:"http://127.0.0.1:11434"`
	InferenceModel            string        `envconfig:"INFERENCE_MODEL" default:"qwen2.5:7b-instruct"`
	InferenceFallbackEndpoint string        `envconfig:"INFERENCE_FALLBACK_ENDPOINT" default:""`
	InferenceFallbackModel    string        `envconfig:"INFERENCE_FALLBACK_MODEL" default:""`
	InferenceClassifyTimeout  time.Duration `envconfig:"INFERENCE_CLASSIFY_TIMEOUT" default:"60s"`
	InferenceGenerateTimeout  time.Duration `envconfig:"INFERENCE_GENERATE_TIMEOUT" default:"180s"`

	RedisAddress      string        `envconfig:"REDIS_ADDRESS" default:""`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	InferenceCacheTTL time.Duration `envconfig:"INFERENCE_CACHE_TTL" default:"168h"`

	GroupingLookbackDays   int     `envconfig:"GROUPING_LOOKBACK_DAYS" default:"7"`
	GroupingThreshold      float64 `envconfig:"GROUPING_THRESHOLD" default:"0.75"`
	GroupingMaxCandidates  int     `envconfig:"GROUPING_MAX_CANDIDATES" default:"20"`
	FusionSimilarityCutoff int     `envconfig:"FUSION_SIMILARITY_THRESHOLD" default:"80"`
	FusionUpdateCutoff     int     `envconfig:"FUSION_UPDATE_THRESHOLD" default:"60"`

	ClassifyKeywordThreshold   float64 `envconfig:"CLASSIFY_KEYWORD_THRESHOLD" default:"5"`
	ClassifyUseAIFallback      bool    `envconfig:"CLASSIFY_USE_AI_FALLBACK" default:"true"`
	ClassifyCombineResults     bool    `envconfig:"CLASSIFY_COMBINE_RESULTS" default:"true"`
	ClassifyAutoLearn          bool    `envconfig:"CLASSIFY_AUTO_LEARN" default:"true"`
	ClassifyAutoLearnMinWeight float64 `envconfig:"CLASSIFY_AUTO_LEARN_MIN_WEIGHT" default:"1.0"`

	IngestFetchLimit       int  `envconfig:"INGEST_FETCH_LIMIT" default:"50"`
	IngestMinContentLength int  `envconfig:"INGEST_MIN_CONTENT_LENGTH" default:"50"`
	IngestExcludeOwnSource bool `envconfig:"INGEST_EXCLUDE_OWN_SOURCE" default:"false"`
	IngestFetchArticles    bool `envconfig:"INGEST_FETCH_ARTICLES" default:"true"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8090"`

	TelegramBotToken  string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	TelegramAPIBase   string `envconfig:"TELEGRAM_API_BASE" default:"https://api.telegram.org"`
	ScheduleTelegram  string `envconfig:"SCHEDULE_TELEGRAM" default:"*/5 * * * *"`
	ScheduleWebsite   string `envconfig:"SCHEDULE_WEBSITE" default:"*/15 * * * *"`
	MediaUploadTarget string `envconfig:"MEDIA_UPLOAD_DIR" default:"./media"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("FUSION_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("FUSION_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("FUSION_DB_MIN_CONNS (%d) cannot exceed FUSION_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.InferenceEndpoint) == "" {
		return fmt.Errorf("INFERENCE_ENDPOINT is required")
	}
	if strings.TrimSpace(c.InferenceModel) == "" {
		return fmt.Errorf("INFERENCE_MODEL is required")
	}
	if c.InferenceClassifyTimeout <= 0 || c.InferenceGenerateTimeout <= 0 {
		return fmt.Errorf("inference timeouts must be > 0")
	}
	if c.GroupingLookbackDays < 1 {
		return fmt.Errorf("GROUPING_LOOKBACK_DAYS must be >= 1")
	}
	if c.GroupingThreshold < 0.65 || c.GroupingThreshold > 0.80 {
		return fmt.Errorf("GROUPING_THRESHOLD must be within [0.65, 0.80], got %.2f", c.GroupingThreshold)
	}
	if c.GroupingMaxCandidates < 1 {
		return fmt.Errorf("GROUPING_MAX_CANDIDATES must be >= 1")
	}
	if c.FusionSimilarityCutoff < 0 || c.FusionSimilarityCutoff > 100 {
		return fmt.Errorf("FUSION_SIMILARITY_THRESHOLD must be within [0, 100]")
	}
	if c.FusionUpdateCutoff < 0 || c.FusionUpdateCutoff >= c.FusionSimilarityCutoff {
		return fmt.Errorf("FUSION_UPDATE_THRESHOLD (%d) must be >= 0 and below FUSION_SIMILARITY_THRESHOLD (%d)", c.FusionUpdateCutoff, c.FusionSimilarityCutoff)
	}
	if c.ClassifyKeywordThreshold < 0 {
		return fmt.Errorf("CLASSIFY_KEYWORD_THRESHOLD must be >= 0")
	}
	if c.ClassifyAutoLearnMinWeight <= 0 {
		return fmt.Errorf("CLASSIFY_AUTO_LEARN_MIN_WEIGHT must be > 0")
	}
	if c.IngestFetchLimit < 1 {
		return fmt.Errorf("INGEST_FETCH_LIMIT must be >= 1")
	}
	if c.IngestMinContentLength < 0 {
		return fmt.Errorf("INGEST_MIN_CONTENT_LENGTH must be >= 0")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

// CacheEnabled reports whether a Redis address was configured for inference replies.
func (c *Config) CacheEnabled() bool {
	return c != nil && strings.TrimSpace(c.RedisAddress) != ""
}
