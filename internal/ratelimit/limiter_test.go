package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(time.Minute)
	l.now = clock.now
	return l, clock
}

func TestMemoryLimiter_AtMostLimitPerWindow(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter()

	for i := 0; i < 3; i++ {
		ok, err := l.TryConsume(ctx, "g1", 3)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.TryConsume(ctx, "g1", 3)
	assert.False(t, ok)

	b, _ := l.Snapshot("g1")
	assert.Equal(t, 3, b.Count, "rejected request must not consume capacity")

	clock.advance(30 * time.Second)
	ok, _ = l.TryConsume(ctx, "g1", 3)
	assert.False(t, ok, "window has not expired yet")

	clock.advance(31 * time.Second)
	ok, _ = l.TryConsume(ctx, "g1", 3)
	assert.True(t, ok, "bucket resets lazily after expiry")
	rem, _ := l.Remaining(ctx, "g1", 3)
	assert.Equal(t, 2, rem)
}

func TestMemoryLimiter_RemainingDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		rem, err := l.Remaining(ctx, "destructive:g1", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, rem)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter()

	ok, _ := l.TryConsume(ctx, "g1", 1)
	assert.True(t, ok)
	ok, _ = l.TryConsume(ctx, "destructive:g1", 1)
	assert.True(t, ok)
	ok, _ = l.TryConsume(ctx, "g1", 1)
	assert.False(t, ok)
}

func TestMemoryLimiter_ConcurrentConsumersNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(time.Minute)

	const limit = 10
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryConsume(ctx, "g1", limit); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(limit), accepted.Load())
}

func TestMemoryLimiter_TryConsumeNIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter()

	ok, err := l.TryConsumeN(ctx, "g1", 3, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.TryConsumeN(ctx, "g1", 3, 5)
	assert.False(t, ok, "three do not fit into the two left")
	b, _ := l.Snapshot("g1")
	assert.Equal(t, 3, b.Count, "a refused batch takes nothing")

	ok, _ = l.TryConsumeN(ctx, "g1", 2, 5)
	assert.True(t, ok)
	rem, _ := l.Remaining(ctx, "g1", 5)
	assert.Zero(t, rem)

	ok, _ = l.TryConsumeN(ctx, "g1", 0, 5)
	assert.True(t, ok, "an empty batch needs no capacity")
}

func TestMemoryLimiter_ConcurrentBatchesNeverSplit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(time.Minute)
	const limit = 10
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryConsumeN(ctx, "g1", 3, limit); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), accepted.Load())
	b, _ := l.Snapshot("g1")
	assert.Equal(t, 9, b.Count)
}
