package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecowatch/internal/alerts"
	"ecowatch/internal/api"
	"ecowatch/internal/classifier"
	"ecowatch/internal/config"
	"ecowatch/internal/logging"
	"ecowatch/internal/metrics"
	"ecowatch/internal/pipeline"
	"ecowatch/internal/publisher"
	"ecowatch/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("ecowatch starting", "version", version, "config", mgr.Path())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := store.Init(initCtx); err != nil {
		initCancel()
		logger.Error("init storage", "err", err)
		os.Exit(1)
	}
	initCancel()

	matcher := classifier.NewClient(cfg.Classifier.Endpoint, cfg.Classifier.Timeout)
	pub := publisher.NewPublisher(cfg.Publisher, logger)
	defer pub.Close()

	events := alerts.NewStore(cfg.Alerts.StoreLimit)
	m := metrics.New()
	pl := pipeline.New(matcher, store, pub, events, m, logger, cfg.Scoring.PointsPerUpload)

	server := api.NewServer(mgr, pl, store, events, m, api.TokenIdentity(mgr), logger, version)
	httpServer := api.Start(ctx, server)

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second,
			func(c *config.Config) { logger.Info("config reloaded", "log_level", c.LogLevel) },
			func(err error) { logger.Warn("config reload failed", "err", err) },
			ctx.Done(),
		)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
