// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Logging is split in two. RedactingLogger covers the bridge API, where
// web-tier callers may forward user data in headers. Logger covers the /ws
// upgrade route: the socket server hijacks the connection and blocks until
// the client goes away, so its line doubles as a session summary.
//
// Order in the router: RequestID, then the logger, then Recovery, so panics
// carry the correlation id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps logged query bytes; upgrade URLs carry tokens.
	maxQueryLogLength = 2048
)

var accessLogParamRE = credentialParamRE()

// RequestID reuses an inbound X-Request-ID or mints a UUID, echoes it on the
// response and stores it under "requestID".
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger emits one access line per request with the caller, client address
// and masked query. For WebSocket upgrades the line is written when the
// session ends and reports "session" instead of latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid, _ := c.Get(requestIDKey)
		upgrade := c.IsWebsocket()

		l := log.With().
			Str("request_id", asString(rid)).
			Str("caller", CallerID(c)).
			Str("method", c.Request.Method).
			Str("path", routeOf(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(maskParams(accessLogParamRE, c.Request.URL.RawQuery), maxQueryLogLength)).
			Bool("websocket", upgrade).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		ev := levelFor(&l, status, len(c.Errors) > 0)
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		if upgrade {
			ev.Int("status", status).Dur("session", time.Since(start)).Msg("ws session closed")
			return
		}
		ev.Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery turns a panic into a JSON 500 carrying the request id. If the
// handler already wrote, only the status is aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := asString(c.Value(requestIDKey))
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Str("path", routeOf(c)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global one when no
// logging middleware ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if lg, ok := c.Value(loggerKey).(*zerolog.Logger); ok {
		return lg
	}
	l := log.With().Logger()
	return &l
}

// levelFor picks error for 5xx or recorded gin errors, warn for 4xx.
func levelFor(l *zerolog.Logger, status int, hasErrors bool) *zerolog.Event {
	switch {
	case hasErrors || status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	default:
		return l.Info()
	}
}

// routeOf is the registered route, or the raw path when nothing matched.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
