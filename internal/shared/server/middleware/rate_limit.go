package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/server/respond"
)

// DefaultRateGroup is used when GroupFor is unset or returns "".
const DefaultRateGroup = "DEFAULT"

// RateLimitRule bounds one request group per RUC. Rate and Burst describe a
// token bucket; MaxInFlight, when positive, caps concurrent requests, which is
// what matters for calls that keep a backend poll loop open.
type RateLimitRule struct {
	Rate        float64
	Burst       int
	MaxInFlight int
}

// RateLimitConfig selects a rule per request group.
type RateLimitConfig struct {
	Rules    map[string]RateLimitRule
	GroupFor func(*gin.Context) string
	Limiter  *RateLimiter
}

// RateLimiter keeps a bucket and an in-flight count per RUC and group.
type RateLimiter struct {
	now func() time.Time

	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	inFlight map[string]int
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter builds a limiter; a nil clock means time.Now.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		now:      now,
		buckets:  map[string]*tokenBucket{},
		inFlight: map[string]int{},
	}
}

// RateLimit rejects requests over their group's rule with 429 and a
// Retry-After header. Requests are keyed by RUC, falling back to client IP.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(nil)
	}
	return func(c *gin.Context) {
		group := DefaultRateGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}

		who := OwnerFromContext(c)
		if who == "" {
			who = c.ClientIP()
		}
		key := group + "|" + who

		if wait, ok := limiter.Take(key, rule); !ok {
			tooMany(c, "too many requests", wait)
			return
		}
		if rule.MaxInFlight > 0 {
			if !limiter.enter(key, rule.MaxInFlight) {
				tooMany(c, "another long-running request is still in progress", time.Second)
				return
			}
			defer limiter.leave(key)
		}
		c.Next()
	}
}

// Take spends one token from key's bucket. When none is left it reports how
// long until the next one.
func (l *RateLimiter) Take(key string, rule RateLimitRule) (time.Duration, bool) {
	if l == nil || rule.Rate <= 0 || rule.Burst <= 0 {
		return 0, true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &tokenBucket{tokens: float64(rule.Burst), seen: now}
		l.buckets[key] = b
	}
	if d := now.Sub(b.seen); d > 0 {
		b.tokens = math.Min(float64(rule.Burst), b.tokens+d.Seconds()*rule.Rate)
		b.seen = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	missing := (1 - b.tokens) / rule.Rate
	return time.Duration(math.Ceil(missing*1000)) * time.Millisecond, false
}

func (l *RateLimiter) enter(key string, max int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[key] >= max {
		return false
	}
	l.inFlight[key]++
	return true
}

func (l *RateLimiter) leave(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[key] <= 1 {
		delete(l.inFlight, key)
		return
	}
	l.inFlight[key]--
}

func tooMany(c *gin.Context, msg string, wait time.Duration) {
	if wait < time.Millisecond {
		wait = time.Second
	}
	secs := int(math.Ceil(wait.Seconds()))
	c.Header("Retry-After", strconv.Itoa(secs))
	respond.Error(c, http.StatusTooManyRequests, "rate_limited", msg, gin.H{
		"retryAfterMs": wait.Milliseconds(),
	})
}
