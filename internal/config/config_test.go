package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func mapEnv(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := loadFrom(mapEnv(nil))
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Addr() != ":8080" || cfg.GinMode != "release" || cfg.LogLevel != "info" {
		t.Fatalf("server defaults: %+v", cfg)
	}
	if cfg.DedupTTL != 2*time.Minute || cfg.DedupMaxEntries != 10000 {
		t.Fatalf("dedup defaults: %v %d", cfg.DedupTTL, cfg.DedupMaxEntries)
	}
	if cfg.WS.PingInterval != 25*time.Second || cfg.WS.SendBuffer != 256 || cfg.WS.AllowedOrigins != nil {
		t.Fatalf("ws defaults: %+v", cfg.WS)
	}
	if cfg.Redis.Addr != "" || cfg.NATS.URL != "" || cfg.NATS.Subject != "relay.emit" {
		t.Fatalf("integrations should be off by default: %+v %+v", cfg.Redis, cfg.NATS)
	}
	if cfg.OTEL.Enabled || !cfg.OTEL.Insecure || cfg.OTEL.SampleRatio != 1 {
		t.Fatalf("otel defaults: %+v", cfg.OTEL)
	}
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := loadFrom(mapEnv(map[string]string{
		"PORT":                        ":8088",
		"GIN_MODE":                    "Debug",
		"LOG_LEVEL":                   " WARNING ",
		"LOG_PRETTY":                  "yes",
		"PERSIST_TIMEOUT":             "1500ms",
		"RATE_RPS":                    "x",
		"RATE_BURST":                  " 7 ",
		"CORS_ALLOWED_ORIGINS":        " https://a.example , , http://b ",
		"HSTS_MAX_AGE":                "24h",
		"DEDUP_TTL":                   "30s",
		"WS_PING_INTERVAL":            "10s",
		"WS_MAX_MESSAGE_BYTES":        "4096",
		"WS_EVENT_RPS":                "5",
		"WS_ALLOWED_ORIGINS":          "https://chat.example",
		"REDIS_ADDR":                  "redis:6379",
		"REDIS_DB":                    "2",
		"NATS_URL":                    "nats://nats:4222",
		"NATS_SUBJECT":                "web.emit",
		"OTEL_EXPORTER_OTLP_INSECURE": "off",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
	}))
	if err != nil {
		t.Fatalf("loadFrom: %v", err)
	}
	if cfg.Addr() != ":8088" || cfg.GinMode != "debug" || cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("server/logging: %+v", cfg)
	}
	if cfg.PersistTimeout != 1500*time.Millisecond {
		t.Fatalf("persist timeout=%v", cfg.PersistTimeout)
	}
	if cfg.RateRPS != 50 || cfg.RateBurst != 7 {
		t.Fatalf("unparsable RATE_RPS should keep its default: %v %d", cfg.RateRPS, cfg.RateBurst)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.example", "http://b"}) {
		t.Fatalf("cors=%#v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Security.HSTSMaxAge != 24*time.Hour || cfg.DedupTTL != 30*time.Second {
		t.Fatalf("durations: %v %v", cfg.Security.HSTSMaxAge, cfg.DedupTTL)
	}
	if cfg.WS.PingInterval != 10*time.Second || cfg.WS.MaxMessageBytes != 4096 || cfg.WS.EventRPS != 5 ||
		!reflect.DeepEqual(cfg.WS.AllowedOrigins, []string{"https://chat.example"}) {
		t.Fatalf("ws=%+v", cfg.WS)
	}
	if cfg.Redis.DB != 2 || cfg.NATS.Subject != "web.emit" {
		t.Fatalf("integrations: %+v %+v", cfg.Redis, cfg.NATS)
	}
	if cfg.OTEL.Insecure || cfg.OTEL.SampleRatio != 0.25 {
		t.Fatalf("otel=%+v", cfg.OTEL)
	}
}

func TestLoadFrom_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"blank port keeps default", map[string]string{"PORT": "   "}, ""},
		{"zero timeout", map[string]string{"IDLE_TIMEOUT": "0s"}, "IDLE_TIMEOUT"},
		{"persist timeout", map[string]string{"PERSIST_TIMEOUT": "-1s"}, "PERSIST_TIMEOUT"},
		{"negative rate", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"dedup capacity", map[string]string{"DEDUP_MAX_ENTRIES": "0"}, "DEDUP_MAX_ENTRIES"},
		{"ws send buffer", map[string]string{"WS_SEND_BUFFER": "0"}, "WS_SEND_BUFFER"},
		{"ws event burst", map[string]string{"WS_EVENT_BURST": "0"}, "WS_EVENT_BURST"},
		{"presence ttl only with redis", map[string]string{"PRESENCE_TTL": "0s"}, ""},
		{"presence ttl with redis", map[string]string{"REDIS_ADDR": "r:6379", "PRESENCE_TTL": "0s"}, "PRESENCE_TTL"},
		{"sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadFrom(mapEnv(tc.env))
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadFrom_ReportsEveryProblem(t *testing.T) {
	_, err := loadFrom(mapEnv(map[string]string{
		"DEDUP_TTL":      "0s",
		"WS_SEND_BUFFER": "0",
		"NATS_URL":       "nats://n:4222",
		"NATS_SUBJECT":   " ",
	}))
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"DEDUP_TTL", "WS_SEND_BUFFER", "NATS_SUBJECT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%q missing from %v", want, err)
		}
	}
}

func TestEnv_TypedReads(t *testing.T) {
	e := env{lookup: mapEnv(map[string]string{
		"F": "3.5", "I": "42", "D": "150ms", "BAD": "zzz", "BLANK": "  ",
		"T": " On ", "N": "no", "L": "a, ,b ,",
	})}

	if e.float("F", 0) != 3.5 || e.float("BAD", 1.5) != 1.5 {
		t.Fatalf("float reads")
	}
	if e.int("I", 0) != 42 || e.int("BAD", 7) != 7 || e.int("MISSING", 9) != 9 {
		t.Fatalf("int reads")
	}
	if e.dur("D", 0) != 150*time.Millisecond || e.dur("BAD", time.Second) != time.Second {
		t.Fatalf("duration reads")
	}
	if !e.bool("T", false) || e.bool("N", true) || !e.bool("BAD", true) || e.bool("BLANK", false) {
		t.Fatalf("bool reads")
	}
	if e.str("BLANK", "d") != "d" {
		t.Fatalf("blank string should fall back")
	}
	if got := e.list("L"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("list=%#v", got)
	}
	if e.list("MISSING") != nil {
		t.Fatalf("missing list should be nil")
	}
}

func TestLoad_ReadsProcessEnv(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("LOG_LEVEL", "debug")
	cfg := MustLoad()
	if cfg.Addr() != ":9001" || cfg.LogLevel != "debug" {
		t.Fatalf("Load should read the process env: %+v", cfg)
	}
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if recover() == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	MustLoad()
}
