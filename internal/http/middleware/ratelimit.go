// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RateLimiter keeps one token bucket per web-tier caller so a single runaway
// instance cannot saturate the emit endpoint for the others. Buckets live in
// process memory, like the relay's rooms; idle ones are swept lazily.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	bucketIdleTTL   = 10 * time.Minute
	sweepEveryCalls = 5000
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "rate_limited_total",
		Help:      "Bridge requests rejected by the per-caller limiter, by key kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

// KeyFunc maps a request to its bucket. Keys are "<kind>:<id>".
type KeyFunc func(*gin.Context) string

// KeyByCallerOrIP buckets by X-Caller-ID, or by client IP for anonymous
// callers ("caller:web-1" vs "ip:203.0.113.7").
func KeyByCallerOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id := CallerID(c); id != "anonymous" {
			return "caller:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   uint64
	ttl     time.Duration
}

// NewRateLimiter builds a limiter refilling rps tokens per second. A burst
// below one is raised to one.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     bucketIdleTTL,
	}
}

// limiterFor returns the bucket for key. Every sweepEveryCalls lookups the
// idle buckets are dropped first, so a stale key is recreated fresh.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.calls++; rl.calls >= sweepEveryCalls {
		rl.calls = 0
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// IsRateBypass reports whether IdempotencyValidator found a stored result,
// in which case the replay is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// Handler rejects over-limit requests with 429 and a Retry-After telling the
// caller when its next token lands.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		res := rl.limiterFor(key).Reserve()
		if res.OK() && res.Delay() == 0 {
			c.Next()
			return
		}
		wait := time.Second
		if res.OK() {
			wait = res.Delay()
			res.Cancel()
		}

		kind, _, _ := strings.Cut(key, ":")
		rateLimited.WithLabelValues(kind).Inc()

		c.Header("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
