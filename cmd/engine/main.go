package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slinet/ehsync/internal/config"
	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/internal/engine"
	"github.com/slinet/ehsync/internal/logger"
	"github.com/slinet/ehsync/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; environment always wins
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("configuration loaded",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.Float64("rate_interval", cfg.Crawler.RateInterval),
		zap.String("thumb_dir", cfg.Engine.ThumbDir),
	)

	if err := database.Init(&cfg.Database, log); err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	client, err := crawler.NewClient(&cfg.Crawler)
	if err != nil {
		log.Fatal("failed to create site client", zap.Error(err))
	}

	// One limiter per traffic class: main site and thumbnail CDN are
	// throttled independently.
	siteLimiter := crawler.NewLimiter(time.Duration(cfg.Crawler.RateInterval * float64(time.Second)))
	thumbLimiter := crawler.NewLimiter(time.Duration(cfg.Crawler.ThumbRateInterval * float64(time.Second)))

	fetcher := crawler.NewFetcher(client, siteLimiter, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Invalid cookies make every later request useless; refuse to start.
	if err := fetcher.ValidateAccess(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatal("site access validation failed", zap.Error(err))
	}

	st := store.New(log)
	full := engine.NewFullRunner(st, fetcher, log)
	incremental := engine.NewIncrementalRunner(st, fetcher, log)
	reconciler := engine.NewReconciler(st, full, incremental,
		time.Duration(cfg.Engine.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.Engine.WarmupSeconds)*time.Second,
		time.Duration(cfg.Engine.TickPauseSeconds)*time.Second,
		log,
	)
	thumbs := engine.NewThumbWorker(st, client, thumbLimiter,
		cfg.Engine.ThumbDir,
		time.Duration(cfg.Engine.ThumbIdleSeconds)*time.Second,
		log,
	)

	var stats *engine.StatsReporter
	if cfg.Engine.StatsEnabled {
		stats = engine.NewStatsReporter(st, cfg.Engine.StatsCron, log)
		if err := stats.Start(); err != nil {
			log.Fatal("failed to start stats reporter", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := thumbs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("thumb worker exited", zap.Error(err))
		}
	}()

	log.Info("sync engine started")
	<-ctx.Done()
	log.Info("shutting down...")

	wg.Wait()
	if stats != nil {
		stats.Stop()
	}
	log.Info("engine exited")
}
