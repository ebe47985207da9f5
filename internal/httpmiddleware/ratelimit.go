package httpmiddleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"classattend/internal/auth"
	"classattend/internal/clock"
	"classattend/internal/metrics"
)

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket is an in-memory per-key limiter refilled at perMinute.
type TokenBucket struct {
	capacity int
	rate     int
	clock    clock.Clock
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at
// perMinute.
func NewTokenBucket(capacity, perMinute int, c clock.Clock) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if c == nil {
		c = clock.System{}
	}
	return &TokenBucket{capacity: capacity, rate: perMinute, clock: c, state: make(map[string]*bucket)}
}

// Allow implements Limiter.
func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: float64(l.capacity - 1), last: now}
		return true, nil
	}
	b.tokens += now.Sub(b.last).Minutes() * float64(l.rate)
	if b.tokens > float64(l.capacity) {
		b.tokens = float64(l.capacity)
	}
	b.last = now
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RedisWindow is a fixed one-minute window limiter shared by every API
// instance.
type RedisWindow struct {
	client    *redis.Client
	perMinute int64
	clock     clock.Clock
}

// NewRedisWindow creates a shared limiter.
func NewRedisWindow(client *redis.Client, perMinute int, c clock.Clock) *RedisWindow {
	if c == nil {
		c = clock.System{}
	}
	return &RedisWindow{client: client, perMinute: int64(perMinute), clock: c}
}

// Allow implements Limiter.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.clock.Now().Unix() / 60
	k := fmt.Sprintf("ratelimit:%s:%d", key, window)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, 2*time.Minute)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= l.perMinute, nil
}

// RateLimit enforces l per caller: the authenticated user when present,
// otherwise the client IP. Limiter errors let the request through.
func RateLimit(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id, ok := auth.FromContext(c); ok && id.UserID != "" {
			key = "user:" + id.UserID
		}
		allowed, err := l.Allow(c.Request.Context(), key)
		if err == nil && !allowed {
			metrics.RateLimited(c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
