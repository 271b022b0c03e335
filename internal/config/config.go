// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes relay settings such
// as server timeouts, logging, WebSocket transport limits, message dedup,
// optional presence mirroring and bridge inlets, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tbourn/go-chat-relay/internal/utils"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig toggles HSTS on the HTTP API.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (host:port, gRPC)
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WSConfig holds WebSocket transport limits.
type WSConfig struct {
	PingInterval    time.Duration // WS_PING_INTERVAL
	WriteTimeout    time.Duration // WS_WRITE_TIMEOUT
	MaxMessageBytes int64         // WS_MAX_MESSAGE_BYTES
	SendBuffer      int           // WS_SEND_BUFFER (frames queued per connection)
	EventRPS        float64       // WS_EVENT_RPS inbound events per second per connection
	EventBurst      int           // WS_EVENT_BURST
	AllowedOrigins  []string      // WS_ALLOWED_ORIGINS; empty allows any origin
}

// RedisConfig configures the optional presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// NATSConfig configures the optional bridge inlet. An empty URL disables it.
type NATSConfig struct {
	URL     string
	Subject string
}

// Config is the full relay configuration.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool

	// DBPath is the SQLite file backing the persistence collaborator.
	DBPath         string
	PersistTimeout time.Duration

	// Rate limit for the bridge HTTP surface, keyed per caller.
	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	DedupTTL        time.Duration
	DedupMaxEntries int

	WS    WSConfig
	Redis RedisConfig
	NATS  NATSConfig
	OTEL  OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load merges an optional .env file into the process environment and builds
// the configuration from it. Every validation problem is reported, joined
// into a single error.
func Load() (Config, error) {
	// Missing .env is the normal case in containers.
	_ = godotenv.Load()
	return loadFrom(os.LookupEnv)
}

func loadFrom(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}

	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(e.str("GIN_MODE", "release")),

		LogLevel:       logLevel(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),

		DBPath:         e.str("DB_PATH", "relay.db"),
		PersistTimeout: e.dur("PERSIST_TIMEOUT", 3*time.Second),

		RateRPS:   e.float("RATE_RPS", 50),
		RateBurst: e.int("RATE_BURST", 100),

		CORS: CORSConfig{AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		DedupTTL:        e.dur("DEDUP_TTL", 2*time.Minute),
		DedupMaxEntries: e.int("DEDUP_MAX_ENTRIES", 10000),

		WS: WSConfig{
			PingInterval:    e.dur("WS_PING_INTERVAL", 25*time.Second),
			WriteTimeout:    e.dur("WS_WRITE_TIMEOUT", 5*time.Second),
			MaxMessageBytes: int64(e.int("WS_MAX_MESSAGE_BYTES", 64<<10)),
			SendBuffer:      e.int("WS_SEND_BUFFER", 256),
			EventRPS:        e.float("WS_EVENT_RPS", 20),
			EventBurst:      e.int("WS_EVENT_BURST", 40),
			AllowedOrigins:  e.list("WS_ALLOWED_ORIGINS"),
		},
		Redis: RedisConfig{
			Addr:        e.str("REDIS_ADDR", ""),
			Password:    e.str("REDIS_PASSWORD", ""),
			DB:          e.int("REDIS_DB", 0),
			PresenceTTL: e.dur("PRESENCE_TTL", 2*time.Minute),
		},
		NATS: NATSConfig{
			URL:     e.str("NATS_URL", ""),
			Subject: e.str("NATS_SUBJECT", "relay.emit"),
		},
		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-chat-relay"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
	return cfg, cfg.validate()
}

// validate returns nil or the joined list of violated constraints.
func (c Config) validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.LogLevel == "", "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
			"READ_TIMEOUT, READ_HEADER_TIMEOUT, WRITE_TIMEOUT and IDLE_TIMEOUT must be positive"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty"},
		{c.PersistTimeout <= 0, "PERSIST_TIMEOUT must be > 0"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.DedupTTL <= 0, "DEDUP_TTL must be > 0"},
		{c.DedupMaxEntries < 1, "DEDUP_MAX_ENTRIES must be >= 1"},
		{c.WS.PingInterval <= 0 || c.WS.WriteTimeout <= 0, "WS_PING_INTERVAL and WS_WRITE_TIMEOUT must be positive"},
		{c.WS.MaxMessageBytes <= 0, "WS_MAX_MESSAGE_BYTES must be > 0"},
		{c.WS.SendBuffer < 1, "WS_SEND_BUFFER must be >= 1"},
		{c.WS.EventRPS <= 0 || c.WS.EventBurst < 1, "WS_EVENT_RPS must be > 0 and WS_EVENT_BURST >= 1"},
		{c.Redis.Addr != "" && c.Redis.PresenceTTL <= 0, "PRESENCE_TTL must be > 0 when REDIS_ADDR is set"},
		{c.NATS.URL != "" && strings.TrimSpace(c.NATS.Subject) == "", "NATS_SUBJECT must not be empty when NATS_URL is set"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	var errs []error
	for _, ck := range checks {
		if ck.bad {
			errs = append(errs, errors.New(ck.msg))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
}

// ginMode maps unknown modes to release.
func ginMode(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "debug", "release", "test":
		return s
	}
	return "release"
}

// logLevel normalizes a level name; it returns "" when s is not a level.
func logLevel(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "warning":
		return "warn"
	case "debug", "info", "warn", "error", "fatal", "panic":
		return s
	}
	return ""
}

// env reads typed values through lookup. Unset, blank or unparsable values
// yield the default.
type env struct {
	lookup func(string) (string, bool)
}

func (e env) raw(k string) (string, bool) {
	v, ok := e.lookup(k)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (e env) str(k, def string) string {
	if v, ok := e.raw(k); ok {
		return v
	}
	return def
}

func (e env) int(k string, def int) int {
	v, _ := e.raw(k)
	return utils.AtoiDefault(v, def)
}

func (e env) float(k string, def float64) float64 {
	if v, ok := e.raw(k); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func (e env) dur(k string, def time.Duration) time.Duration {
	if v, ok := e.raw(k); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func (e env) bool(k string, def bool) bool {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

// list splits a comma-separated value, dropping blanks.
func (e env) list(k string) []string {
	v, _ := e.raw(k)
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
