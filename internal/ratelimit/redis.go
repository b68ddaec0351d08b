package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

// RedisConfig describes the shared limiter backend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	Prefix   string
}

// RedisLimiter implements a sliding window log on a sorted set per key so
// that every replica sees the same counts.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(ctx context.Context, cfg RedisConfig, maxRequests int, window time.Duration) (*RedisLimiter, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis ping failed")
	}
	return NewRedisLimiterWithClient(client, cfg.Prefix, maxRequests, window), nil
}

// NewRedisLimiterWithClient wraps an existing client.
func NewRedisLimiterWithClient(client redis.UniversalClient, prefix string, maxRequests int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "quickpost:ratelimit"
	}
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, prefix: prefix, max: maxRequests, window: window, now: time.Now}
}

// Allow records the request and rejects it when the window is full.
// Rejected requests are removed again so they do not extend the penalty.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	redisKey := l.prefix + ":" + key
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	floor := strconv.FormatInt(now.Add(-l.window).UnixMicro(), 10)

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+floor)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "rate limit check failed")
	}
	if card.Val() <= int64(l.max) {
		return true, nil
	}
	if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "rate limit rollback failed")
	}
	return false, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
