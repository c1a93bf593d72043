package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManualManager(cfg Config) (*Manager, *manualClock) {
	clk := &manualClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	m := NewManager(cfg)
	m.now = clk.Now
	return m, clk
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	m, clk := newManualManager(Config{RequestsPerSecond: 2, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, m.Allow("vendor-1"), "burst token %d", i)
	}
	assert.False(t, m.Allow("vendor-1"))

	clk.Advance(500 * time.Millisecond)
	assert.True(t, m.Allow("vendor-1"))
	assert.False(t, m.Allow("vendor-1"))
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	m, clk := newManualManager(Config{RequestsPerSecond: 10, Burst: 2})

	clk.Advance(time.Hour)
	assert.True(t, m.Allow("k"))
	assert.True(t, m.Allow("k"))
	assert.False(t, m.Allow("k"))
}

func TestManager_KeysAreIndependent(t *testing.T) {
	m, _ := newManualManager(Config{RequestsPerSecond: 1, Burst: 1})

	assert.True(t, m.Allow("vendor-1"))
	assert.False(t, m.Allow("vendor-1"))
	assert.True(t, m.Allow("vendor-2"))
	assert.Same(t, m.GetLimiter("vendor-1"), m.GetLimiter("vendor-1"))
}

func TestLimiter_ZeroBurstStillAdmitsOne(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0, Burst: 0})
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0, Burst: 1})
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_WaitReturnsWhenTokenAvailable(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 100, Burst: 1})
	require.NoError(t, m.Wait(context.Background(), "catalog"))
	require.NoError(t, m.Wait(context.Background(), "catalog"))
}

func TestManager_PruneDropsRefilledBuckets(t *testing.T) {
	m, clk := newManualManager(Config{RequestsPerSecond: 1, Burst: 2})

	require.True(t, m.Allow("vendor-1"))
	require.True(t, m.Allow("vendor-1"))
	require.True(t, m.Allow("vendor-2"))
	assert.Equal(t, 0, m.Prune(), "both buckets are below burst")

	clk.Advance(time.Second)
	assert.Equal(t, 1, m.Prune(), "vendor-2 refilled")
	assert.Equal(t, 1, m.Len())

	clk.Advance(time.Second)
	assert.Equal(t, 1, m.Prune())
	assert.Equal(t, 0, m.Len())

	// a pruned key starts over with a full bucket
	assert.True(t, m.Allow("vendor-1"))
	assert.True(t, m.Allow("vendor-1"))
	assert.False(t, m.Allow("vendor-1"))
}

func TestManager_StartPrunerStopsWithContext(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 1000, Burst: 1})
	m.Allow("vendor-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartPruner(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}
