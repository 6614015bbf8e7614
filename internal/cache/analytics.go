package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const keyPrefix = "moodline:analytics:"

// AnalyticsCache keeps one Redis string per (subject, window), each with its
// own TTL. A per-subject set tracks the live window keys so Invalidate can
// drop them together, and a per-subject generation counter rejects writes
// computed before the last invalidation.
type AnalyticsCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

func NewAnalyticsCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *AnalyticsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AnalyticsCache{redisClient: redisClient, ttl: ttl, logger: logger}
}

func windowKey(subjectID string, windowDays int) string {
	return keyPrefix + subjectID + ":w" + strconv.Itoa(windowDays)
}

func indexKey(subjectID string) string { return keyPrefix + subjectID + ":keys" }

// The generation key has no TTL: an expiring counter could come back to a
// value an in-flight computation already holds.
func genKey(subjectID string) string { return keyPrefix + subjectID + ":gen" }

func (c *AnalyticsCache) Load(ctx context.Context, subjectID string, windowDays int, dest any) (bool, error) {
	val, err := c.redisClient.Get(ctx, windowKey(subjectID, windowDays)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached analytics: %w", err)
	}
	return true, nil
}

func (c *AnalyticsCache) Generation(ctx context.Context, subjectID string) (int64, error) {
	return readGen(ctx, c.redisClient, subjectID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGen(ctx context.Context, g getter, subjectID string) (int64, error) {
	gen, err := g.Get(ctx, genKey(subjectID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	return gen, nil
}

var errStaleGeneration = errors.New("cache generation changed")

// Store writes v only if the subject's generation is still gen, watching
// the counter so an Invalidate racing the write aborts it.
func (c *AnalyticsCache) Store(ctx context.Context, subjectID string, windowDays int, gen int64, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to marshal analytics: %w", err)
	}
	k := windowKey(subjectID, windowDays)
	idx := indexKey(subjectID)

	err = c.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGen(ctx, tx, subjectID)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, c.ttl)
			pipe.SAdd(ctx, idx, k)
			pipe.Expire(ctx, idx, c.ttl)
			return nil
		})
		return err
	}, genKey(subjectID))
	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set analytics cache: %w", err)
	}
	c.logger.Debug("cached analytics",
		zap.String("subject_id", subjectID),
		zap.Int("window_days", windowDays),
		zap.Int64("generation", gen),
		zap.Int("bytes", len(data)),
	)
	return true, nil
}

// Invalidate bumps the generation before collecting window keys, so any
// write that commits after the bump is rejected and any that committed
// before it is already listed in the index.
func (c *AnalyticsCache) Invalidate(ctx context.Context, subjectID string) error {
	if err := c.redisClient.Incr(ctx, genKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}
	idx := indexKey(subjectID)
	keys, err := c.redisClient.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to list analytics cache keys: %w", err)
	}
	if err := c.redisClient.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate analytics cache: %w", err)
	}
	return nil
}
