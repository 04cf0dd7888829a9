package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/instarelay/instacore/internal/app"
	"github.com/instarelay/instacore/internal/config"
	"github.com/instarelay/instacore/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	logger.Info("instacore is starting", map[string]interface{}{
		"log_level":    cfg.LogLevel,
		"has_gateway":  cfg.HasGatewayConfig(),
		"has_notifier": cfg.HasNotifierConfig(),
	})

	application, err := app.New(cfg)
	if err != nil {
		logger.Error("failed to build application", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	application.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.InfoMsg("shutdown signal received, stopping instacore")
	cancel()
	application.Stop()
	logger.InfoMsg("instacore stopped")
}
