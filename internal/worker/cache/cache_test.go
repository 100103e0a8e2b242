package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// TestConfigCacheHitSkipsFetch covers the "cache hits are free" half of
// the contract: a second Get for the same hash must not reach the
// fetcher again.
func TestConfigCacheHitSkipsFetch(t *testing.T) {
	var fetches atomic.Int64
	c := NewConfigCache(time.Hour, 10, func(ctx context.Context, hash string) (model.SimConfig, error) {
		fetches.Inc()
		return model.SimConfig{RotationID: "rot-" + hash}, nil
	})

	first, err := c.Get(context.Background(), "abc")
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, fetches.Load())
}

// TestConfigCacheCollapsesConcurrentMisses covers the singleflight
// wiring: many pool slots missing on the same hash at once produce one
// upstream fetch, not a stampede.
func TestConfigCacheCollapsesConcurrentMisses(t *testing.T) {
	var fetches atomic.Int64
	gate := make(chan struct{})
	c := NewConfigCache(time.Hour, 10, func(ctx context.Context, hash string) (model.SimConfig, error) {
		fetches.Inc()
		<-gate
		return model.SimConfig{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "same-hash")
			assert.NoError(t, err)
		}()
	}

	// Give the racers time to pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, fetches.Load())
}

func TestConfigCacheBoundedCapacity(t *testing.T) {
	c := NewConfigCache(time.Hour, 3, func(ctx context.Context, hash string) (model.SimConfig, error) {
		return model.SimConfig{}, nil
	})

	for _, h := range []string{"a", "b", "c", "d", "e"} {
		_, err := c.Get(context.Background(), h)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.store.ItemCount(), 3)
}

// TestRotationCacheChecksumMismatchForcesRefetch covers the E3 flow: a
// cached rotation whose checksum no longer matches the descriptor's is
// invalidated and refetched exactly once.
func TestRotationCacheChecksumMismatchForcesRefetch(t *testing.T) {
	var fetches atomic.Int64
	current := RotationEntry{Script: "cast(\"a\")", Checksum: "v1"}
	c := NewRotationCache(func(ctx context.Context, id string) (RotationEntry, error) {
		fetches.Inc()
		return current, nil
	})

	got, err := c.Resolve(context.Background(), "R", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Checksum)
	assert.EqualValues(t, 1, fetches.Load())

	// Cached read with the matching checksum is free.
	got, err = c.Resolve(context.Background(), "R", "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetches.Load())

	// The coordinator publishes v2: the stale entry is dropped and the
	// trace contains exactly one more fetch.
	current = RotationEntry{Script: "cast(\"b\")", Checksum: "v2"}
	got, err = c.Resolve(context.Background(), "R", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Checksum)
	assert.Equal(t, "cast(\"b\")", got.Script)
	assert.EqualValues(t, 2, fetches.Load())
}

// TestRotationCacheGetExpectingChecksum covers the read-side contract in
// isolation: a mismatch returns ok=false and evicts, so the next read
// misses even with the original expected value.
func TestRotationCacheGetExpectingChecksum(t *testing.T) {
	c := NewRotationCache(func(ctx context.Context, id string) (RotationEntry, error) {
		return RotationEntry{}, nil
	})
	c.store.SetDefault("R", RotationEntry{Script: "s", Checksum: "v1"})

	_, ok := c.GetExpectingChecksum("R", "v2")
	assert.False(t, ok)

	_, ok = c.GetExpectingChecksum("R", "v1")
	assert.False(t, ok, "mismatch must evict the stale entry, not leave it readable")
}
