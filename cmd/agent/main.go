package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lenahartl/fieldsync/internal/adapter/boltstore"
	"github.com/lenahartl/fieldsync/internal/adapter/httpserver"
	"github.com/lenahartl/fieldsync/internal/adapter/remote"
	"github.com/lenahartl/fieldsync/internal/notify"
	"github.com/lenahartl/fieldsync/internal/outbox"
	"github.com/lenahartl/fieldsync/internal/platform/config"
	"github.com/lenahartl/fieldsync/internal/platform/logging"
	"github.com/lenahartl/fieldsync/internal/session"
	"github.com/lenahartl/fieldsync/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config) *boltstore.Store {
	store, err := boltstore.Open(cfg.StorePath)
	if err != nil {
		slog.Error("Failed to open outbox store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	return store
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		ProfileFetchTimeout: cfg.ProfileFetchTimeout,
		ProfileFetchRetries: cfg.ProfileFetchRetries,
		ProfileFetchBackoff: cfg.ProfileFetchBackoff,
		InitWatchdog:        cfg.InitWatchdog,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		SignOutTimeout:      cfg.SignOutTimeout,
		ProfileMaxStale:     cfg.ProfileMaxStale,
	}
}

func runGracefulShutdown(cancel context.CancelFunc, srv *httpserver.Server, store *boltstore.Store, unsubscribe func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		unsubscribe()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if err := store.Close(); err != nil {
			slog.Error("Store close error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Agent starting", "env", cfg.AppEnv, "listen", cfg.Listen, "version", version.Get().Version)

	store := setupStore(cfg)

	bus := notify.NewBus()
	client := remote.New(cfg.RemoteURL, cfg.RemoteKey)

	sessions := session.NewManager(client, client, store, bus, clock, sessionConfig(cfg))
	queue := outbox.NewQueue(store, client, sessions, bus, clock, cfg.AttachmentBucket)

	ctx, cancel := context.WithCancel(context.Background())

	unsubscribe, err := client.SubscribeSessionEvents(ctx, sessions.HandleSessionEvent)
	if err != nil {
		slog.Error("Failed to subscribe to session events", "error", err)
		cancel()
		_ = store.Close()
		os.Exit(1)
	}

	sessions.Initialize(ctx)
	go sessions.RunHeartbeat(ctx)

	srv := httpserver.NewServer(cfg.Listen, sessions, queue, bus)
	done := runGracefulShutdown(cancel, srv, store, unsubscribe)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		cancel()
		os.Exit(1)
	}

	<-done
	slog.Info("Agent stopped")
}
