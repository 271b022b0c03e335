package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-relay/internal/config"
	"github.com/tbourn/go-chat-relay/internal/http/handlers"
	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/relay"
)

func newDeps(t *testing.T) Deps {
	t.Helper()
	r := relay.New(relay.Options{Logger: zerolog.Nop()})
	return Deps{
		Bridge:  relay.NewBridge(r, nil, zerolog.Nop()),
		Replays: relay.NewDedupCache(time.Minute, 100),
		WS: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
	}
}

func baseConfig() config.Config {
	return config.Config{
		RateRPS:   100,
		RateBurst: 10,
		OTEL:      config.OTELConfig{ServiceName: "test-svc"},
	}
}

func serve(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t), baseConfig())

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID on response")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "relay_connections_open") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	if w = serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off unless enabled.
	if w = serve(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newDeps(t), cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_WSRouteMounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t), baseConfig())

	if w := serve(r, http.MethodGet, "/ws", "", nil); w.Code != http.StatusTeapot {
		t.Fatalf("GET /ws should reach the socket handler, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, newDeps(t), cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/emit") {
		t.Fatalf("swagger doc.json: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_EmitAndIdempotentReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t), baseConfig())

	body := `{"event":"broadcast","data":{"event":"announcement","data":{"text":"hi"}}}`
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "emit-1"}

	w := serve(r, http.MethodPost, "/emit", body, hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("POST /emit: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first emit must not be a replay")
	}

	w = serve(r, http.MethodPost, "/emit", body, hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}

	// Bad key shape is rejected before the handler.
	w = serve(r, http.MethodPost, "/emit", body, map[string]string{middleware.HeaderIdempotencyKey: "has spaces"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: %d", w.Code)
	}
}

func TestRegisterRoutes_EmitValidationErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t), baseConfig())

	w := serve(r, http.MethodPost, "/emit", `{"event":"notify-user","data":{"event":"x"}}`, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "userId") {
		t.Fatalf("missing userId: %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/emit", `{"event":"teleport","data":{}}`, nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "unknown_event") {
		t.Fatalf("unknown event: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_RateLimitedBridge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	RegisterRoutes(r, newDeps(t), cfg)

	hdr := map[string]string{middleware.HeaderCallerID: "web-rl"}
	if w := serve(r, http.MethodGet, "/status", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("first /status: %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/status", "", hdr); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second /status should be limited, got %d", w.Code)
	}
	// Health is outside the limiter.
	if w := serve(r, http.MethodGet, "/health", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("/health must not be limited, got %d", w.Code)
	}
}

func TestRegisterRoutes_SnapshotsGzip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newDeps(t), baseConfig())

	w := serve(r, http.MethodGet, "/online-users", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /online-users = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	if !strings.Contains(string(raw), `"count":0`) {
		t.Fatalf("unexpected body: %s", raw)
	}

	w = serve(r, http.MethodGet, "/voice-meetings?channelId=42", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing meeting should 404, got %d", w.Code)
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func TestReplayLookup(t *testing.T) {
	ctx, now := context.Background(), time.Now()
	if found, err := replayLookup(nil)(ctx, "web", "k", now); found || err != nil {
		t.Fatalf("nil store: %v %v", found, err)
	}

	store := relay.NewDedupCache(time.Minute, 10)
	store.Put(handlers.ReplayKey("web", "k"), "{}")
	lookup := replayLookup(store)
	if found, _ := lookup(ctx, "web", "k", now); !found {
		t.Fatalf("recorded key should be found")
	}
	if found, _ := lookup(ctx, "other", "k", now); found {
		t.Fatalf("keys are scoped per caller")
	}

	if _, fresh := store.PutIfAbsent(handlers.ReplayKey("web", "busy"), ""); !fresh {
		t.Fatalf("reserve failed")
	}
	if found, _ := lookup(ctx, "web", "busy", now); found {
		t.Fatalf("an in-flight key has no result to replay")
	}
}
