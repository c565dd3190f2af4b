// Package app wires the dispatcher's components from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unclebandit/broadcast-dispatcher/internal/config"
	"github.com/unclebandit/broadcast-dispatcher/internal/db"
	"github.com/unclebandit/broadcast-dispatcher/internal/pacing"
	"github.com/unclebandit/broadcast-dispatcher/internal/progress"
	"github.com/unclebandit/broadcast-dispatcher/internal/queue"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
	"github.com/unclebandit/broadcast-dispatcher/internal/sender"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

type App struct {
	Config *config.Config

	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface

	Queue    queue.Queue
	Progress progress.Publisher
	Executor *service.Executor
	Driver   *service.Driver
	Service  *service.CampaignService

	closers []func() error
}

// Build opens the store, broker and progress backend named by cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStore(cfg); err != nil {
		return nil, err
	}
	if err := a.openQueue(cfg); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openProgress(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	snd, err := newSender(cfg.Sender)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Executor = &service.Executor{
		Campaigns:   a.Campaigns,
		Recipients:  a.Recipients,
		Sender:      snd,
		Policy:      pacing.New(businessHours(cfg.BusinessHours), nil),
		Progress:    a.Progress,
		SendTimeout: cfg.SendTimeout,
		ClaimLease:  cfg.ClaimLease,
		BusyBackoff: cfg.BusyBackoff,
	}
	a.Driver = service.NewDriver(a.Executor, a.Campaigns, cfg.DriverPollInterval)
	a.Service = &service.CampaignService{
		CampaignRepo:  a.Campaigns,
		RecipientRepo: a.Recipients,
		Executor:      a.Executor,
		Dispatch:      a.Dispatch,
		Progress:      a.Progress,
	}
	return a, nil
}

// Dispatch publishes a dispatch job for campaignID.
func (a *App) Dispatch(ctx context.Context, campaignID int) error {
	return queue.PublishDispatch(ctx, a.Queue, a.Config.DispatchQueue, campaignID)
}

// Scheduler returns a scheduler that activates due campaigns through Dispatch.
func (a *App) Scheduler() *service.Scheduler {
	return &service.Scheduler{Campaigns: a.Campaigns, Dispatch: a.Dispatch, Interval: a.Config.SchedulerInterval}
}

// StartWorker runs drivers in this process for jobs on the dispatch queue.
func (a *App) StartWorker() (*service.Worker, error) {
	w := service.NewWorker(a.Driver, a.Config.WorkerConcurrency)
	w.Start()
	if err := queue.StartDispatchSubscriber(a.Queue, a.Config.DispatchQueue, w); err != nil {
		w.Stop()
		return nil, err
	}
	log.WithFields(log.Fields{"queue": a.Config.DispatchQueue, "concurrency": a.Config.WorkerConcurrency}).Info("👷 Dispatch worker started")
	return w, nil
}

func (a *App) openStore(cfg *config.Config) error {
	if cfg.Store == "memory" {
		log.Warn("⚠️ Using in-memory store, state is lost on restart")
		store := repository.NewMemoryStore()
		a.Campaigns, a.Recipients = store.Campaigns, store.Recipients
		return nil
	}

	conn, err := db.Open(cfg.DB)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn.Close)
	a.Campaigns = &repository.CampaignRepository{DB: conn}
	a.Recipients = &repository.RecipientRepository{DB: conn}
	return nil
}

func (a *App) openQueue(cfg *config.Config) error {
	if cfg.AMQPURL == "" {
		q := queue.NewInMemoryQueue()
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		return nil
	}

	q, err := queue.DialRabbit(cfg.AMQPURL)
	if err != nil {
		return err
	}
	a.Queue = q
	a.closers = append(a.closers, q.Close)
	return nil
}

func (a *App) openProgress(ctx context.Context, cfg *config.Config) error {
	if !cfg.Redis.Enabled {
		a.Progress = progress.Noop{}
		return nil
	}

	p := progress.NewRedisPublisher(cfg.Redis)
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.WithField("addr", cfg.Redis.Address).Info("✅ Connected to Redis")
	a.Progress = p
	a.closers = append(a.closers, p.Close)
	return nil
}

func newSender(cfg config.SenderConfig) (sender.Sender, error) {
	switch cfg.Mode {
	case "mock":
		return sender.NewMockSender(cfg.MockSuccessRate, time.Now().UnixNano()), nil
	case "http":
		return sender.NewHTTPSender(cfg.GatewayURL, cfg.APIToken), nil
	}
	return nil, fmt.Errorf("unknown sender mode %q", cfg.Mode)
}

func businessHours(cfg config.BusinessHoursConfig) pacing.BusinessHours {
	return pacing.BusinessHours{
		StartHour: cfg.StartHour,
		EndHour:   cfg.EndHour,
		Days:      cfg.Days,
		Location:  cfg.Location,
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("⚠️ Error during shutdown")
		}
	}
	a.closers = nil
}
