package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

type StopReason string

const (
	StopCompleted  StopReason = "completed"
	StopPaused     StopReason = "paused"
	StopCancelled  StopReason = "cancelled"
	StopNotRunning StopReason = "not_running"
	StopContext    StopReason = "context_done"
	StopError      StopReason = "error"
)

// CampaignReader is the read access the driver needs to check status.
type CampaignReader interface {
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
}

// Driver runs dispatch steps for one campaign until it completes, leaves the
// running state or fails. It keeps no progress of its own, so a fresh Driver
// resumes where a previous one stopped.
type Driver struct {
	Executor  StepExecutor
	Campaigns CampaignReader

	// PollInterval bounds how long a single sleep lasts; status is re-checked
	// between slices.
	PollInterval time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Now          func() time.Time
}

func NewDriver(exec StepExecutor, campaigns CampaignReader, pollInterval time.Duration) *Driver {
	return &Driver{Executor: exec, Campaigns: campaigns, PollInterval: pollInterval}
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the campaign. A StopError reason comes with the error that caused it.
func (d *Driver) Run(ctx context.Context, campaignID int) (StopReason, error) {
	entry := log.WithField("campaign_id", campaignID)
	entry.Info("🚀 Driver started")

	for {
		if reason, stop, err := d.check(ctx, campaignID); stop {
			entry.WithField("reason", reason).Info("🛑 Driver stopped")
			return reason, err
		}

		res, err := d.Executor.ExecuteStep(ctx, campaignID)
		if err != nil {
			if appErrors.IsNotRunning(err) {
				entry.WithError(err).Info("🛑 Driver stopped")
				return StopNotRunning, nil
			}
			if ctx.Err() != nil {
				return StopContext, nil
			}
			entry.WithError(err).Error("❌ Dispatch step failed")
			return StopError, err
		}
		if res.Completed {
			entry.Info("🏁 Driver finished")
			return StopCompleted, nil
		}

		if reason, stop, err := d.wait(ctx, campaignID, res.NextDecision.Wait(d.now())); stop {
			entry.WithField("reason", reason).Info("🛑 Driver stopped")
			return reason, err
		}
	}
}

// check reports whether the campaign is no longer running.
func (d *Driver) check(ctx context.Context, campaignID int) (StopReason, bool, error) {
	if ctx.Err() != nil {
		return StopContext, true, nil
	}
	c, err := d.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if ctx.Err() != nil {
			return StopContext, true, nil
		}
		return StopError, true, err
	}
	switch c.Status {
	case model.CampaignStatusRunning:
		return "", false, nil
	case model.CampaignStatusPaused:
		return StopPaused, true, nil
	case model.CampaignStatusCancelled:
		return StopCancelled, true, nil
	case model.CampaignStatusCompleted:
		return StopCompleted, true, nil
	}
	return StopNotRunning, true, nil
}

func (d *Driver) wait(ctx context.Context, campaignID int, total time.Duration) (StopReason, bool, error) {
	for remaining := total; remaining > 0; {
		slice := remaining
		if d.PollInterval > 0 && slice > d.PollInterval {
			slice = d.PollInterval
		}
		if err := d.sleep(ctx, slice); err != nil {
			return StopContext, true, nil
		}
		remaining -= slice
		if remaining > 0 {
			if reason, stop, err := d.check(ctx, campaignID); stop {
				return reason, true, err
			}
		}
	}
	return "", false, nil
}
