package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes every JSON line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestID_GeneratesOrPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen any
	r.GET("/api/v1/status", func(c *gin.Context) {
		seen, _ = c.Get(requestIDKey)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if gen := w.Header().Get(requestIDHeader); gen == "" || gen != seen {
		t.Fatalf("generated id %q should match context %v", gen, seen)
	}

	for _, name := range []string{requestIDHeader, strings.ToLower(requestIDHeader)} {
		w = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set(name, "web-req-7")
		r.ServeHTTP(w, req)
		if got := w.Header().Get(requestIDHeader); got != "web-req-7" || seen != "web-req-7" {
			t.Fatalf("header %s: propagated %q, context %v", name, got, seen)
		}
	}
}

func TestLogger_LevelsByOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/api/v1/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/api/v1/emit", func(c *gin.Context) {
		_ = c.Error(errors.New("store down"))
		c.Status(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status?token=s3cret", nil)
	req.Header.Set(HeaderCallerID, "web-1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/emit", nil))

	lines := logLines(t, buf)
	if len(lines) != 3 {
		t.Fatalf("want 3 access lines, got %d:\n%s", len(lines), buf.String())
	}
	want := []struct{ level, path, caller string }{
		{"info", "/api/v1/status", "web-1"},
		{"warn", "/nowhere", "anonymous"},
		{"error", "/api/v1/emit", "anonymous"},
	}
	for i, w := range want {
		l := lines[i]
		if l["level"] != w.level || l["path"] != w.path || l["caller"] != w.caller {
			t.Fatalf("line %d = %v; want %+v", i, l, w)
		}
	}
	if lines[0]["query"] != "token=[REDACTED]" {
		t.Fatalf("credential not masked: %v", lines[0]["query"])
	}
	if lines[2]["errors"] == nil {
		t.Fatalf("gin errors should be logged: %v", lines[2])
	}
}

func TestLogger_WebSocketSessionLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/ws", func(c *gin.Context) {
		LoggerFrom(c).Info().Str("connection_id", "c1").Msg("socket opened")
	})

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=abc", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got:\n%s", buf.String())
	}
	if lines[0]["request_id"] == "" || lines[0]["websocket"] != true {
		t.Fatalf("handler logger should be request scoped: %v", lines[0])
	}
	end := lines[1]
	if end["message"] != "ws session closed" || end["session"] == nil || end["latency"] != nil {
		t.Fatalf("unexpected session line: %v", end)
	}
	if end["query"] != "access_token=[REDACTED]" {
		t.Fatalf("credential not masked: %v", end["query"])
	}
}

func TestRecovery_PanicBecomesJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.POST("/api/v1/emit", func(c *gin.Context) { panic("kaboom") })
	r.GET("/api/v1/status", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/emit", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if !strings.Contains(buf.String(), `"panic recovered"`) {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}

	// Already written: no JSON body appended.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("late panic should not write a JSON body: %q", w.Body.String())
	}
}

func TestLoggerFrom_FallsBackToGlobal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("probe")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["message"] != "probe" || lines[0]["request_id"] != nil {
		t.Fatalf("unexpected fallback output: %v", lines)
	}
}

func TestTruncateAndAsString(t *testing.T) {
	if asString("x") != "x" || asString(7) != "" || asString(nil) != "" {
		t.Fatalf("asString")
	}
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"abcdefgh", 5, "abcde…"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("truncate(%q,%d)=%q; want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
