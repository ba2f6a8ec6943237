package rate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/db"
)

func newTestLimiter(t *testing.T, rps, burst int) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLimiter(&db.RedisDB{Client: client}, zap.NewNop(), rps, burst)
}

func TestAllowConsumesBurst(t *testing.T) {
	limiter := newTestLimiter(t, 1, 3)
	siteID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, siteID)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be within burst", i)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, siteID)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter.Nanoseconds(), int64(0))
}

func TestAllowIsolatesSites(t *testing.T) {
	limiter := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()

	allowed, _, err := limiter.Allow(ctx, first)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, first)
	require.NoError(t, err)
	require.False(t, allowed, "first site's bucket is drained")

	allowed, _, err = limiter.Allow(ctx, second)
	require.NoError(t, err)
	assert.True(t, allowed, "second site has its own bucket")
}

func TestResetRefillsBucket(t *testing.T) {
	limiter := newTestLimiter(t, 1, 1)
	siteID := uuid.New()
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, siteID)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, _ = limiter.Allow(ctx, siteID)
	require.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, siteID))

	allowed, _, err = limiter.Allow(ctx, siteID)
	require.NoError(t, err)
	assert.True(t, allowed)
}
