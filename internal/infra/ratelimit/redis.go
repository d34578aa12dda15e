package ratelimit

import (
	"context"
	"strconv"
	"time"

	"repohub/internal/domain/service"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "repohub:rl:"

// redisLimiter keeps the sliding log in a sorted set scored by admission time (µs).
type redisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter is the constructor for the Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, max int, window time.Duration, now func() time.Time) service.RateLimiter {
	if now == nil {
		now = time.Now
	}

	return &redisLimiter{client: client, max: max, window: window, now: now}
}

func (l *redisLimiter) Name() string {
	return "redis"
}

// Allow records the request optimistically inside MULTI and takes it back when the set
// then holds more than max entries. Rejected requests therefore do not extend the window.
func (l *redisLimiter) Allow(ctx context.Context, key string) (service.RateLimitResult, error) {
	now := l.now()
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-l.window).UnixMicro()
	redisKey := redisKeyPrefix + key
	member := strconv.FormatInt(nowMicros, 10) + "-" + uuid.NewString()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMicros), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.PExpire(ctx, redisKey, l.window)

		return nil
	})
	if err != nil {
		return service.RateLimitResult{}, errors.Wrap(err, "redis rate limit pipeline")
	}

	count := int(card.Val())
	result := service.RateLimitResult{Limit: l.max, Allowed: count <= l.max}

	if !result.Allowed {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return service.RateLimitResult{}, errors.Wrap(err, "redis rate limit rollback")
		}
		count--
	}

	result.Remaining = max(l.max-count, 0)
	result.ResetAfter = l.window
	if zs := oldest.Val(); len(zs) > 0 {
		oldestAt := time.UnixMicro(int64(zs[0].Score))
		result.ResetAfter = oldestAt.Add(l.window).Sub(now)
	}

	return result, nil
}
