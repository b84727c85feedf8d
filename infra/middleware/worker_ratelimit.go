package middleware

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimiter gives every caller a token bucket of limit requests refilled
// over window. Callers are keyed by user ID, or by IP before identity is known.
type RateLimiter struct {
	limit  int
	every  rate.Limit
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		window:  window,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Close stops the eviction goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) evictLoop() {
	tick := time.NewTicker(rl.window)
	defer tick.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-tick.C:
			rl.evictIdle(now)
		}
	}
}

// evictIdle drops buckets untouched for a full window; they would be full anyway.
func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.window {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.limit)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if uid, ok := c.Locals("user_id").(fmt.Stringer); ok {
			key = uid.String()
		}

		now := time.Now()
		lim := rl.bucketFor(key, now)
		allowed := lim.AllowN(now, 1)
		left := int(math.Max(0, math.Floor(lim.TokensAt(now))))

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(left))

		if !allowed {
			wait := time.Duration(float64(time.Second) / float64(rl.every))
			c.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(wait).Unix(), 10))
			c.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
