package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/unclebandit/broadcast-dispatcher/internal/app"
	"github.com/unclebandit/broadcast-dispatcher/internal/config"
	"github.com/unclebandit/broadcast-dispatcher/internal/logger"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the worker")
	}
	if cfg.Store != "postgres" {
		log.Fatal("the worker needs STORE=postgres to share state with the server")
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise")
	}
	defer a.Close()

	w, err := a.StartWorker()
	if err != nil {
		log.WithError(err).Fatal("failed to start worker")
	}
	defer w.Stop()

	// drivers keep no state, so anything left running is simply picked up again
	if _, err := service.RecoverRunning(ctx, a.Campaigns, a.Dispatch); err != nil {
		log.WithError(err).Error("❌ Failed to recover running campaigns")
	}

	log.Info("Worker running, waiting for dispatch jobs...")
	<-ctx.Done()
	log.Info("shutdown signal received")
}
