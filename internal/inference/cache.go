package inference

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/metrics"
)

const (
	cacheKeyPrefix  = "fusion:inference:"
	DefaultCacheTTL = 7 * 24 * time.Hour
)

// CachedGenerator remembers judgment replies in Redis so re-processing the same
// item against the same candidate sees the same answer. Generation and merge
// calls are never cached. Redis failures degrade to uncached calls.
type CachedGenerator struct {
	next      Generator
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewCachedGenerator wraps next. namespace should identify the model so a model
// change does not serve stale judgments.
func NewCachedGenerator(next Generator, client redis.UniversalClient, namespace string, ttl time.Duration, logger zerolog.Logger) *CachedGenerator {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGenerator{
		next:      next,
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

// NewRedisClient opens and pings a Redis connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (g *CachedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g == nil || g.next == nil {
		return "", fmt.Errorf("cached generator is not initialized")
	}
	if g.client == nil || !cacheable(req.Task) {
		return g.next.Generate(ctx, req)
	}

	key := g.key(req)
	cached, err := g.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		metrics.RecordCacheLookup("hit")
		return cached, nil
	case errors.Is(err, redis.Nil):
		metrics.RecordCacheLookup("miss")
	default:
		metrics.RecordCacheLookup("error")
		g.logger.Warn().Err(err).Str("task", string(req.Task)).Msg("inference cache read failed")
	}

	text, err := g.next.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if setErr := g.client.Set(ctx, key, text, g.ttl).Err(); setErr != nil {
		g.logger.Warn().Err(setErr).Str("task", string(req.Task)).Msg("inference cache write failed")
	}
	return text, nil
}

func (g *CachedGenerator) key(req Request) string {
	h := sha256.New()
	h.Write([]byte(g.namespace))
	h.Write([]byte{0})
	h.Write([]byte(req.Task))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(req.Options.JSON)))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, h.Sum(nil))
}

func cacheable(task Task) bool {
	switch task {
	case TaskSimilarity, TaskDifference:
		return true
	default:
		return false
	}
}
