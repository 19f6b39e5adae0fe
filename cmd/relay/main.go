package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabsandbox/relay/relay"
	"github.com/collabsandbox/relay/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to relay config JSON file")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		redisAddr  = flag.String("redis", "", "Redis address; enables the redis bus backend (overrides config)")
		sandboxURL = flag.String("sandbox-url", "", "Sandbox backend base URL (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	cfg := loadConfig(*configFile)

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *redisAddr != "" {
		cfg.Bus.Backend = relay.BackendRedis
		cfg.Bus.Redis.Addr = *redisAddr
	}
	if *sandboxURL != "" {
		cfg.Sandbox.BaseURL = *sandboxURL
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rel, err := relay.New(ctx, cfg, relay.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create relay: %v", err)
	}

	srv := server.New(rel, cfg.Server)

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := rel.Close(shutdownCtx); err != nil {
		logger.Error("relay shutdown failed", slog.String("error", err.Error()))
	}
}

func loadConfig(path string) *relay.Config {
	if path == "" {
		cfg := relay.DefaultConfig()
		return &cfg
	}

	cfg, err := relay.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
