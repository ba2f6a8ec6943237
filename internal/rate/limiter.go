package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/db"
)

// Limiter is a Redis-backed token bucket keyed by site, applied to the send
// endpoints.
type Limiter struct {
	redis  *db.RedisDB
	logger *zap.Logger
	rps    int
	burst  int
}

func NewLimiter(redisDB *db.RedisDB, logger *zap.Logger, rps, burst int) *Limiter {
	return &Limiter{
		redis:  redisDB,
		logger: logger,
		rps:    rps,
		burst:  burst,
	}
}

// Allow consumes one token from the site's bucket. When the bucket is empty
// it returns false with the duration the caller should wait.
func (l *Limiter) Allow(ctx context.Context, siteID uuid.UUID) (bool, time.Duration, error) {
	key := fmt.Sprintf("rate_limit:%s", siteID)
	now := time.Now()
	windowStart := now.Truncate(time.Second)

	current, err := l.redis.Get(ctx, key).Result()
	tokens := l.burst
	lastRefill := windowStart

	if err == nil {
		var lastRefillUnix int64
		if _, scanErr := fmt.Sscanf(current, "%d:%d", &tokens, &lastRefillUnix); scanErr == nil {
			lastRefill = time.Unix(lastRefillUnix, 0)
		}
	} else if err != redis.Nil {
		return false, 0, fmt.Errorf("failed to read rate limit bucket: %w", err)
	}

	elapsed := windowStart.Sub(lastRefill)
	if elapsed > 0 {
		tokens += int(elapsed.Seconds()) * l.rps
	}
	if tokens > l.burst {
		tokens = l.burst
	}

	if tokens <= 0 {
		retryAfter := time.Second - time.Duration(now.Nanosecond())
		return false, retryAfter, nil
	}

	tokens--
	value := fmt.Sprintf("%d:%d", tokens, windowStart.Unix())
	if err := l.redis.Set(ctx, key, value, time.Minute).Err(); err != nil {
		l.logger.Warn("failed to persist rate limit bucket", zap.Error(err))
	}
	return true, 0, nil
}

// Reset clears a site's bucket.
func (l *Limiter) Reset(ctx context.Context, siteID uuid.UUID) error {
	return l.redis.Del(ctx, fmt.Sprintf("rate_limit:%s", siteID)).Err()
}
