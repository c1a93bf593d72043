package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReferenceGenerator issues human-readable reference numbers such as
// RFQ-20261015-000042. Numbers never repeat for a prefix and day.
type ReferenceGenerator interface {
	Next(ctx context.Context, prefix string, at time.Time) (string, error)
}

const referenceDayLayout = "20060102"

func formatReference(prefix string, at time.Time, n int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, at.UTC().Format(referenceDayLayout), n)
}

// RedisReferences keeps one INCR counter per prefix and day so every
// service instance draws from the same sequence.
type RedisReferences struct {
	redis     *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisReferences connects to redis and verifies it answers.
func NewRedisReferences(addr string, db int, password string) (*RedisReferences, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisReferences{redis: rdb, keyPrefix: "negotiation:ref", ttl: 48 * time.Hour}, nil
}

func (g *RedisReferences) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	key := fmt.Sprintf("%s:%s:%s", g.keyPrefix, prefix, at.UTC().Format(referenceDayLayout))

	pipe := g.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, g.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("reference sequence %s: %w", key, err)
	}
	return formatReference(prefix, at, incr.Val()), nil
}

func (g *RedisReferences) HealthCheck(ctx context.Context) error {
	if g.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := g.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (g *RedisReferences) Close() error {
	if g.redis != nil {
		return g.redis.Close()
	}
	return nil
}

// MemoryReferences is a process-local sequence for single-instance runs and tests.
type MemoryReferences struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemoryReferences() *MemoryReferences {
	return &MemoryReferences{counters: make(map[string]int64)}
}

func (g *MemoryReferences) Next(_ context.Context, prefix string, at time.Time) (string, error) {
	key := prefix + ":" + at.UTC().Format(referenceDayLayout)
	g.mu.Lock()
	g.counters[key]++
	n := g.counters[key]
	g.mu.Unlock()
	return formatReference(prefix, at, n), nil
}
