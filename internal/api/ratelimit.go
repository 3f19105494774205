package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

// RateLimitConfig holds rate limiter configuration. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rps     int
	burst   int
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	rl := &rateLimiter{
		clients: make(map[string]*tokenBucket),
		rps:     cfg.RPS,
		burst:   burst,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if rl.rps > 0 {
		go rl.janitor(5*time.Minute, 10*time.Minute)
	}
	return rl
}

// janitor drops buckets idle for longer than maxIdle.
func (rl *rateLimiter) janitor(every, maxIdle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for k, v := range rl.clients {
				if now.Sub(v.lastRefill) > maxIdle {
					delete(rl.clients, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	bucket, ok := rl.clients[client]
	if !ok {
		bucket = newTokenBucket(rl.rps, rl.burst, now)
		rl.clients[client] = bucket
	}
	return bucket.allow(now)
}

// handler returns a per-client-IP token-bucket middleware.
func (rl *rateLimiter) handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.rps <= 0 {
			return c.Next()
		}
		if !rl.allow(c.IP()) {
			return perrors.ErrRateLimit
		}
		return c.Next()
	}
}
