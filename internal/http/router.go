// Package httpapi mounts the relay's HTTP surface on Gin: the WebSocket
// upgrade route, the bridge endpoints the web tier calls, and operational
// routes for probes, metrics and API docs.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-chat-relay/docs" // swagger spec registration
	"github.com/tbourn/go-chat-relay/internal/config"
	"github.com/tbourn/go-chat-relay/internal/http/handlers"
	"github.com/tbourn/go-chat-relay/internal/http/middleware"
)

const maxBodyBytes = 1 << 20

var (
	corsMethods       = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderCallerID, middleware.HeaderIdempotencyKey}
	corsExposeHeaders = []string{"X-Request-ID", "Content-Length", handlers.HeaderReplayed}
)

// Deps are the collaborators the router mounts. Replays and WS may be nil.
type Deps struct {
	Bridge  handlers.Bridge
	Replays handlers.ReplayStore
	WS      http.HandlerFunc
}

// RegisterRoutes installs middleware and endpoints on r.
//
// Every request is traced, gets a request id, is recovered from panics,
// body-capped, counted and given CORS and security headers. Bridge routes add
// the redacting access log, Idempotency-Key validation and the per-caller
// rate limiter, in that order, so replays skip the limiter. /ws logs once per
// session instead. /ws, /health and /metrics are never rate limited.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics(),
	)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	redact := middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	})
	r.NoRoute(redact, func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(redact, func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(deps.Bridge, deps.Replays)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", redact, h.Health)
	if deps.WS != nil {
		r.GET("/ws", middleware.Logger(), gin.WrapF(deps.WS))
	}
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", redact, ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCallerOrIP())
	bridge := r.Group("",
		redact,
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, replayLookup(deps.Replays)),
		limiter.Handler(),
	)
	bridge.POST("/emit", h.Emit)

	// Snapshots grow with the number of online users.
	snap := bridge.Group("", gzip.Gzip(gzip.DefaultCompression))
	snap.GET("/status", h.Status)
	snap.GET("/online-users", h.OnlineUsers)
	snap.GET("/voice-meetings", h.VoiceMeetings)
}

// replayLookup adapts the emit replay store to the idempotency middleware.
func replayLookup(store handlers.ReplayStore) middleware.IdempotencyLookup {
	return func(_ context.Context, caller, key string, _ time.Time) (bool, error) {
		_, found := handlers.RecordedReplay(store, caller, key)
		return found, nil
	}
}

// corsMiddleware answers any origin with "*" when origins is empty and
// otherwise echoes allowlisted origins. Credentials are never allowed.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsAllowHeaders,
		ExposeHeaders: corsExposeHeaders,
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// cors skips requests without Origin; probes still get the header.
		star := func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{star, cors.New(base)}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	echo := func(c *gin.Context) {
		if o := c.GetHeader("Origin"); o != "" {
			if _, ok := allowed[o]; ok {
				c.Header("Access-Control-Allow-Origin", o)
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
		c.Next()
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{echo, cors.New(base)}
}

// limitBody caps request bodies at maxBytes; reads past the cap fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
