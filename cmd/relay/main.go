// Command relay runs the real-time chat relay: WebSocket clients connect on
// /ws, the web tier pushes events through POST /emit (or NATS), and relayed
// chat messages are persisted to SQLite.
//
// @title       Chat Relay API
// @version     1.0
// @description Bridge and snapshot endpoints of the real-time chat relay.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-relay/internal/bridge"
	"github.com/tbourn/go-chat-relay/internal/config"
	httpapi "github.com/tbourn/go-chat-relay/internal/http"
	"github.com/tbourn/go-chat-relay/internal/observability"
	"github.com/tbourn/go-chat-relay/internal/presence"
	"github.com/tbourn/go-chat-relay/internal/relay"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/services"
	"github.com/tbourn/go-chat-relay/internal/sysutil"
	"github.com/tbourn/go-chat-relay/internal/ws"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.MustLoad()

	sysutil.SetupLogging(os.Stdout, cfg.LogLevel, cfg.OTEL.ServiceName, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	log.Info().Str("version", ver).Str("addr", cfg.Addr()).Msg("starting relay")

	ctx := context.Background()

	// --- tracing ---
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	// --- persistence ---
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open sqlite")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	msgSvc := &services.MessageService{DB: db}

	// --- optional presence mirror ---
	var mirror relay.PresenceMirror
	if cfg.Redis.Addr != "" {
		rm, err := presence.NewRedisMirror(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis presence mirror")
		}
		defer func() { _ = rm.Close() }()
		mirror = rm
		log.Info().Str("addr", cfg.Redis.Addr).Msg("presence mirror enabled")
	}

	// --- relay core ---
	rl := relay.New(relay.Options{
		Store:          msgSvc,
		Mirror:         mirror,
		PersistTimeout: cfg.PersistTimeout,
		DedupTTL:       cfg.DedupTTL,
		DedupMax:       cfg.DedupMaxEntries,
		Logger:         log.Logger,
	})
	br := relay.NewBridge(rl, msgSvc, log.Logger)

	// --- optional NATS inlet ---
	if cfg.NATS.URL != "" {
		sub, err := bridge.Subscribe(cfg.NATS.URL, cfg.NATS.Subject, br, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("nats bridge")
		}
		defer sub.Close()
		log.Info().Str("subject", cfg.NATS.Subject).Msg("nats bridge enabled")
	}

	// --- HTTP ---
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Bridge:  br,
		Replays: relay.NewDedupCache(cfg.DedupTTL, cfg.DedupMaxEntries),
		WS:      ws.NewServer(rl, cfg.WS, log.Logger).HandleWS,
	}, cfg)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server error")
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked sockets are invisible to srv.Shutdown; close them first.
	rl.Shutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("relay stopped")
}
