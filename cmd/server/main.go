package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/vastchain/internal/api"
	"github.com/dgallion1/vastchain/internal/config"
	"github.com/dgallion1/vastchain/internal/fetch"
	"github.com/dgallion1/vastchain/internal/loader"
	"github.com/dgallion1/vastchain/internal/pipeline"
)

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize fetching.
	opts := cfg.HTTPOptions()
	opts.Jar, _ = cookiejar.New(nil)
	httpFetcher, err := fetch.NewHTTPFetcher(opts)
	if err != nil {
		log.Error("invalid fetch configuration", "error", err)
		os.Exit(1)
	}
	l := loader.New(&fetch.DataURIFetcher{Next: httpFetcher}, nil, log)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, l, fetch.NewStats(cfg.StatsWindow), log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /api/ads streams for as long as the chain takes.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		httpFetcher.Close()
	}()

	log.Info("starting vastchain", "port", cfg.Port, "max_depth", cfg.MaxDepth, "workers", cfg.WorkerCount)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
