package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReferences(t *testing.T) (*RedisReferences, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &RedisReferences{redis: rdb, keyPrefix: "negotiation:ref", ttl: time.Hour}, mr
}

func TestRedisReferences_Sequence(t *testing.T) {
	ctx := context.Background()
	g, mr := newTestReferences(t)
	defer mr.Close()

	day := time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)

	first, err := g.Next(ctx, "RFQ", day)
	require.NoError(t, err)
	second, err := g.Next(ctx, "RFQ", day)
	require.NoError(t, err)
	bid, err := g.Next(ctx, "QT", day)
	require.NoError(t, err)

	assert.Equal(t, "RFQ-20261015-000001", first)
	assert.Equal(t, "RFQ-20261015-000002", second)
	assert.Equal(t, "QT-20261015-000001", bid)

	ttl := mr.TTL("negotiation:ref:RFQ:20261015")
	assert.Equal(t, time.Hour, ttl)
}

func TestRedisReferences_ConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	g, mr := newTestReferences(t)
	defer mr.Close()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := g.Next(ctx, "RFQ", t0)
			assert.NoError(t, err)
			mu.Lock()
			seen[ref] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 40)
}

func TestRedisReferences_HealthCheck(t *testing.T) {
	g, mr := newTestReferences(t)
	require.NoError(t, g.HealthCheck(context.Background()))

	mr.Close()
	err := g.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")

	var empty RedisReferences
	assert.Contains(t, empty.HealthCheck(context.Background()).Error(), "redis not initialized")
}

func TestNewRedisReferences(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	g, err := NewRedisReferences(mr.Addr(), 0, "")
	require.NoError(t, err)
	require.NoError(t, g.Close())

	_, err = NewRedisReferences("localhost:1", 0, "")
	assert.Error(t, err)
}

func TestMemoryReferences(t *testing.T) {
	g := NewMemoryReferences()
	a, _ := g.Next(context.Background(), "RFQ", t0)
	b, _ := g.Next(context.Background(), "RFQ", t0)
	c, _ := g.Next(context.Background(), "RFQ", t0.Add(24*time.Hour))

	assert.Equal(t, "RFQ-20261001-000001", a)
	assert.Equal(t, "RFQ-20261001-000002", b)
	assert.Equal(t, "RFQ-20261002-000001", c)
}
