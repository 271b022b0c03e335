// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// IdempotencyValidator lets the web tier retry an emit without fanning the
// event out twice. It only validates and flags; the bridge handler owns the
// stored results and serves the replay.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HeaderIdempotencyKey carries the web tier's retry key for an emit.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderCallerID names the calling web-tier instance. Idempotency keys and
// rate-limit buckets are scoped to it.
const HeaderCallerID = "X-Caller-ID"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions bounds accepted keys. Zero values mean 200 bytes of
// URL-safe token characters.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a result for (caller, key) is still
// held. A lookup error is logged and the emit proceeds as a first attempt.
type IdempotencyLookup func(ctx context.Context, caller, key string, now time.Time) (bool, error)

// IdempotencyValidator checks the Idempotency-Key on mutating requests.
// Safe methods ignore the header. A malformed key is a 400; a key with a
// stored result marks the request as a replay that skips the rate limiter.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			caller := CallerID(c)
			found, err := lookup(c.Request.Context(), caller, key, time.Now().UTC())
			switch {
			case err != nil:
				log.Warn().Err(err).Str("caller", caller).Msg("idempotency lookup failed")
			case found:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IsReplay reports whether a stored result exists for this caller and key.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// CallerID returns the trimmed X-Caller-ID, or "anonymous".
func CallerID(c *gin.Context) string {
	if s := strings.TrimSpace(c.GetHeader(HeaderCallerID)); s != "" {
		return s
	}
	return "anonymous"
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}
