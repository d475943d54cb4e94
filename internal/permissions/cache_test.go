package permissions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheReturnsSameSnapshotWithinTTL(t *testing.T) {
	dir := newFakeDir()
	dir.groups["u1"] = nil
	cache := NewCache(newResolver(dir), time.Minute)

	first, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&dir.listCalls))
}

func TestCacheExpiryTriggersSingleNewResolve(t *testing.T) {
	dir := newFakeDir()
	cache := NewCache(newResolver(dir), 20*time.Millisecond)

	_, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&dir.listCalls))
}

func TestInvalidateForcesResolveWithinTTL(t *testing.T) {
	dir := newFakeDir()
	cache := NewCache(newResolver(dir), time.Minute)

	_, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)

	cache.Invalidate("u1")

	_, err = cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&dir.listCalls))
}

func TestInvalidateAll(t *testing.T) {
	dir := newFakeDir()
	cache := NewCache(newResolver(dir), time.Minute)

	_, _ = cache.Get(context.Background(), "u1")
	_, _ = cache.Get(context.Background(), "u2")
	cache.InvalidateAll()
	_, _ = cache.Get(context.Background(), "u1")
	_, _ = cache.Get(context.Background(), "u2")

	assert.EqualValues(t, 4, atomic.LoadInt32(&dir.listCalls))
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	dir := newFakeDir()
	dir.block = make(chan struct{})
	cache := NewCache(newResolver(dir), time.Minute)

	const n = 16
	var wg sync.WaitGroup
	snaps := make([]*Snapshot, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			s, err := cache.Get(context.Background(), "u1")
			assert.NoError(t, err)
			snaps[i] = s
		}()
	}

	// Give the goroutines time to pile up on the single flight, then
	// release the directory.
	time.Sleep(20 * time.Millisecond)
	close(dir.block)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&dir.listCalls))
	for i := 1; i < n; i++ {
		assert.Same(t, snaps[0], snaps[i])
	}
}
