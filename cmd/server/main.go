// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unclebandit/broadcast-dispatcher/internal/app"
	"github.com/unclebandit/broadcast-dispatcher/internal/config"
	"github.com/unclebandit/broadcast-dispatcher/internal/controller"
	"github.com/unclebandit/broadcast-dispatcher/internal/handler"
	"github.com/unclebandit/broadcast-dispatcher/internal/logger"
	"github.com/unclebandit/broadcast-dispatcher/internal/router"
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

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise")
	}
	defer a.Close()

	// without a broker this process drives campaigns itself
	if cfg.AMQPURL == "" {
		w, err := a.StartWorker()
		if err != nil {
			log.WithError(err).Fatal("failed to start worker")
		}
		defer w.Stop()

		if _, err := service.RecoverRunning(ctx, a.Campaigns, a.Dispatch); err != nil {
			log.WithError(err).Error("❌ Failed to recover running campaigns")
		}
	}

	go a.Scheduler().Run(ctx)

	campaignController := &controller.CampaignController{CampaignService: a.Service}
	campaignHandler := handler.NewCampaignHandler(a.Service)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.New(campaignController, campaignHandler, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.ServerPort).Info("🚀 Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("failed to shutdown server")
	}
}
