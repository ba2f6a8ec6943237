package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKey(t *testing.T) {
	siteID := uuid.New()
	name := "support"
	empty := ""

	assert.Equal(t, "support", SessionKey(&name, siteID))
	assert.Equal(t, "site:"+siteID.String(), SessionKey(&empty, siteID))
	assert.Equal(t, "site:"+siteID.String(), SessionKey(nil, siteID))
	assert.Equal(t, "default", SessionKey(nil, uuid.Nil))
}

func TestSequencerSerializesSameKey(t *testing.T) {
	const gap = 20 * time.Millisecond
	seq := NewSequencer(gap)

	var mu sync.Mutex
	var calls []time.Time
	var inFlight, maxInFlight int

	fn := func() error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		calls = append(calls, time.Now())
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, seq.Do(context.Background(), "session-a", fn))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "same-key sends must never overlap")

	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), gap,
			"consecutive sends must observe the inter-message gap")
	}
}

func TestSequencerAllowsDistinctKeysConcurrently(t *testing.T) {
	seq := NewSequencer(50 * time.Millisecond)

	start := time.Now()
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			seq.Do(context.Background(), k, func() error { return nil })
		}(key)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 150*time.Millisecond,
		"distinct keys should not serialize behind each other")
}

func TestSequencerCancelledBeforeCall(t *testing.T) {
	seq := NewSequencer(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := seq.Do(ctx, "a", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSequencerGapHeldOnError(t *testing.T) {
	const gap = 30 * time.Millisecond
	seq := NewSequencer(gap)

	start := time.Now()
	err := seq.Do(context.Background(), "a", func() error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.GreaterOrEqual(t, time.Since(start), gap,
		"the gap applies even when the provider call fails")
}

func TestSequencerEvictsIdleHandles(t *testing.T) {
	seq := NewSequencer(time.Millisecond)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "a", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			require.NoError(t, seq.Do(context.Background(), key, func() error { return nil }))
		}(key)
	}
	wg.Wait()

	seq.mu.Lock()
	defer seq.mu.Unlock()
	assert.Empty(t, seq.handles, "handles without waiters are dropped")
}
