package service

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
)

// DispatchFunc hands a running campaign to whoever drives it.
type DispatchFunc func(ctx context.Context, campaignID int) error

// Scheduler promotes scheduled campaigns whose time has come.
type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Dispatch  DispatchFunc
	Interval  time.Duration
	Now       func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Tick activates every due campaign and returns how many it activated.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.Campaigns.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, err
	}

	to, _ := model.NextStatus(model.CampaignStatusScheduled, model.ActionActivate)
	activated := 0
	for _, id := range ids {
		err := s.Campaigns.TransitionStatus(ctx, id, model.CampaignStatusScheduled, to, now)
		if errors.Is(err, appErrors.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return activated, err
		}
		activated++
		log.WithField("campaign_id", id).Info("⏰ Scheduled campaign activated")

		if err := s.Dispatch(ctx, id); err != nil {
			log.WithError(err).WithField("campaign_id", id).Error("❌ Failed to dispatch activated campaign")
		}
	}
	return activated, nil
}

// Run ticks every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("❌ Scheduler tick failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RecoverRunning dispatches every campaign left running, e.g. by a crashed
// process. Drivers hold no state, so this is all a restart needs.
func RecoverRunning(ctx context.Context, campaigns repository.CampaignRepositoryInterface, dispatch DispatchFunc) (int, error) {
	ids, err := campaigns.ListIDsByStatus(ctx, model.CampaignStatusRunning)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := dispatch(ctx, id); err != nil {
			log.WithError(err).WithField("campaign_id", id).Error("❌ Failed to recover campaign")
			continue
		}
		n++
	}
	if n > 0 {
		log.WithField("count", n).Info("♻️ Recovered running campaigns")
	}
	return n, nil
}
