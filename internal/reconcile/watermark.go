package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WatermarkStore persists the scan watermark so an interrupted scan can be
// rerun against the same consistent bound instead of restarting.
type WatermarkStore interface {
	Put(ctx context.Context, t time.Time) error
	// Get returns the persisted watermark, or ok=false when none exists.
	Get(ctx context.Context) (t time.Time, ok bool, err error)
	Clear(ctx context.Context) error
}

const watermarkKey = "reconcile:watermark"

// RedisWatermarks stores the watermark in Redis, surviving process restarts.
type RedisWatermarks struct {
	client *redis.Client
}

// NewRedisWatermarks builds a Redis-backed watermark store.
func NewRedisWatermarks(client *redis.Client) *RedisWatermarks {
	return &RedisWatermarks{client: client}
}

func (s *RedisWatermarks) Put(ctx context.Context, t time.Time) error {
	if err := s.client.Set(ctx, watermarkKey, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("persist watermark: %w", err)
	}
	return nil
}

func (s *RedisWatermarks) Get(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, watermarkKey).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return t, true, nil
}

func (s *RedisWatermarks) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, watermarkKey).Err(); err != nil {
		return fmt.Errorf("clear watermark: %w", err)
	}
	return nil
}

// MemoryWatermarks keeps the watermark in-process. Used in tests and when
// Redis is not configured.
type MemoryWatermarks struct {
	mu  sync.Mutex
	t   time.Time
	set bool
}

// NewMemoryWatermarks builds an empty in-memory watermark store.
func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{}
}

func (s *MemoryWatermarks) Put(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t, s.set = t, true
	return nil
}

func (s *MemoryWatermarks) Get(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t, s.set, nil
}

func (s *MemoryWatermarks) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t, s.set = time.Time{}, false
	return nil
}
