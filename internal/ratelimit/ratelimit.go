package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultWindow = time.Minute

// Limiter admits a bounded number of messages per sender per window
type Limiter interface {
	Allow(ctx context.Context, senderId string) (bool, error)
}

// MemoryLimiter accepts one message per sender per window. Rejected messages do not
// extend the window.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, senderId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.last[senderId]; ok && now.Sub(last) < m.window {
		return false, nil
	}
	m.last[senderId] = now

	if len(m.last) > 1024 {
		m.prune(now)
	}
	return true, nil
}

func (m *MemoryLimiter) prune(now time.Time) {
	for sender, last := range m.last {
		if now.Sub(last) >= m.window {
			delete(m.last, sender)
		}
	}
}

// RedisLimiter shares the window across agent replicas
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	limit  int64
}

func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, window: window, limit: 1}
}

func (r *RedisLimiter) Allow(ctx context.Context, senderId string) (bool, error) {
	key := fmt.Sprintf("rl:inbox:%s", senderId)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit counter failed: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			zap.L().Warn("Failed to set rate limit expiry", zap.String("key", key), zap.Error(err))
		}
	} else if count > r.limit {
		// a counter left without expiry would block the sender forever
		if ttl, err := r.client.TTL(ctx, key).Result(); err == nil && ttl < 0 {
			r.client.Expire(ctx, key, r.window)
		}
	}

	return count <= r.limit, nil
}
