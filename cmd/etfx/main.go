package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"etfx/internal/app"
	"etfx/internal/config"
	"etfx/internal/feed"
	"etfx/internal/logger"
)

func main() {
	cfgPath := os.Getenv("ETFX_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, http=%s)", cfg.App.Env, cfg.App.HTTPAddr)

	client := feed.NewClient(cfg.Feed.BaseURL, time.Duration(cfg.Feed.TimeoutSeconds)*time.Second)
	deps := app.Dependencies{
		Decisions: client,
		Signals:   client,
		Market:    client,
	}
	if cfg.Optimizer.Enabled {
		deps.Candles = client
		deps.Advisory = &feed.AdvisoryClient{
			BaseURL: cfg.Optimizer.APIURL,
			APIKey:  cfg.Optimizer.APIKey,
			Model:   cfg.Optimizer.Model,
			Timeout: time.Duration(cfg.Optimizer.TimeoutSeconds) * time.Second,
		}
	}

	application, err := app.New(cfg, deps)
	if err != nil {
		log.Fatalf("initializing app failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
