package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/pacing"
	"github.com/unclebandit/broadcast-dispatcher/internal/progress"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
	"github.com/unclebandit/broadcast-dispatcher/internal/sender"
)

// StepExecutor runs one dispatch step for a campaign.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, campaignID int) (*model.StepResult, error)
}

// Executor claims one recipient, sends to it, records the outcome and asks the
// pacing policy how long to wait before the next step.
type Executor struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Sender     sender.Sender
	Policy     *pacing.Policy
	Progress   progress.Publisher

	SendTimeout time.Duration
	ClaimLease  time.Duration
	BusyBackoff time.Duration

	Now func() time.Time
}

var _ StepExecutor = (*Executor)(nil)

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) ExecuteStep(ctx context.Context, campaignID int) (*model.StepResult, error) {
	c, err := e.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusRunning {
		return nil, appErrors.NewCampaignNotRunning(campaignID, string(c.Status))
	}

	now := e.now()
	in, err := e.pacingInput(ctx, c, now)
	if err != nil {
		return nil, err
	}
	if d, blocked := e.Policy.Gate(in); blocked {
		log.WithFields(log.Fields{"campaign_id": campaignID, "until": d.Until}).Debug("⏸️ Pacing gate closed")
		return &model.StepResult{CampaignID: campaignID, NextDecision: d, RemainingCount: c.Remaining()}, nil
	}

	rcp, err := e.Recipients.ClaimNext(ctx, campaignID, now, e.ClaimLease)
	switch {
	case errors.Is(err, appErrors.ErrClaimInFlight):
		return &model.StepResult{
			CampaignID:     campaignID,
			Busy:           true,
			NextDecision:   model.Delay(e.BusyBackoff),
			RemainingCount: c.Remaining(),
		}, nil
	case err != nil:
		return nil, err
	case rcp == nil:
		return e.finish(ctx, c, now)
	}

	// once claimed, the step runs to the end even if the caller goes away:
	// the send finishes and its outcome is recorded. SendTimeout bounds it.
	ctx = context.WithoutCancel(ctx)

	entry := log.WithFields(log.Fields{"campaign_id": campaignID, "recipient_id": rcp.ID})
	outcome := e.deliver(ctx, c, rcp)
	entry = entry.WithField("status", outcome.Status)

	if err := e.Recipients.RecordOutcome(ctx, rcp.ID, outcome); err != nil {
		if !errors.Is(err, appErrors.ErrRecipientAlreadyProcessed) {
			return nil, fmt.Errorf("failed to record outcome for recipient %d: %w", rcp.ID, err)
		}
		entry.Warn("⚠️ Recipient already processed, ignoring outcome")
	}

	switch outcome.Status {
	case model.RecipientStatusSent:
		entry.Info("✅ Message sent")
	case model.RecipientStatusFailed:
		entry.WithField("error", outcome.ErrorMessage).Warn("❌ Message failed")
	default:
		entry.WithField("reason", outcome.ErrorMessage).Info("⏭️ Recipient skipped")
	}

	res := &model.StepResult{
		CampaignID:       campaignID,
		Sent:             outcome.Status == model.RecipientStatusSent,
		RecipientID:      rcp.ID,
		RecipientAddress: rcp.Address,
		Status:           outcome.Status,
		NextDecision:     model.Delay(0),
	}
	if outcome.Status != model.RecipientStatusSent {
		res.Error = outcome.ErrorMessage
	}

	c, err = e.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if outcome.CountsAttempt() {
		if err := e.decide(ctx, c, res); err != nil {
			return nil, err
		}
	}

	pending, err := e.Recipients.CountPending(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	res.RemainingCount = pending
	if pending == 0 {
		if c, err = e.complete(ctx, c); err != nil {
			return nil, err
		}
		res.Completed = c.Status == model.CampaignStatusCompleted
	}

	e.publish(ctx, c, res)
	return res, nil
}

func (e *Executor) pacingInput(ctx context.Context, c *model.Campaign, now time.Time) (pacing.Input, error) {
	in := pacing.Input{Config: c.Pacing, SinceLastPause: c.BatchSentCount, Now: now}
	if c.Pacing.DailyLimit > 0 {
		n, err := e.Recipients.CountAttemptsSince(ctx, c.ID, e.Policy.Hours.StartOfDay(now))
		if err != nil {
			return in, err
		}
		in.SentToday = n
	}
	return in, nil
}

// deliver renders and sends the message. Recipients that cannot be
// delivered on the channel are skipped without a send call.
func (e *Executor) deliver(ctx context.Context, c *model.Campaign, rcp *model.Recipient) model.Outcome {
	message := RenderTemplate(c.MessageTemplate, rcp.Variables)

	if err := sender.ValidateAddress(c.Channel, rcp.Address); err != nil {
		return model.Outcome{Status: model.RecipientStatusSkipped, ErrorMessage: err.Error(), At: e.now()}
	}
	if isBlank(message) {
		return model.Outcome{Status: model.RecipientStatusSkipped, ErrorMessage: "rendered message is empty", At: e.now()}
	}

	result := sender.SendWithTimeout(ctx, e.Sender, e.SendTimeout, c.ChannelInstanceID, rcp.Address, message)
	if result.Success {
		return model.Outcome{Status: model.RecipientStatusSent, ExternalMessageID: result.ExternalMessageID, At: e.now()}
	}
	return model.Outcome{Status: model.RecipientStatusFailed, ErrorMessage: result.ErrorMessage, At: e.now()}
}

func (e *Executor) decide(ctx context.Context, c *model.Campaign, res *model.StepResult) error {
	in, err := e.pacingInput(ctx, c, e.now())
	if err != nil {
		return err
	}

	d, resetBatch := e.Policy.Decide(in)
	if resetBatch {
		if err := e.Campaigns.ResetBatchCounter(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to reset batch counter: %w", err)
		}
		c.BatchSentCount = 0
	}
	res.NextDecision = d
	return nil
}

// finish handles an exhausted queue.
func (e *Executor) finish(ctx context.Context, c *model.Campaign, now time.Time) (*model.StepResult, error) {
	c, err := e.complete(ctx, c)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusCompleted {
		return nil, appErrors.NewCampaignNotRunning(c.ID, string(c.Status))
	}

	res := &model.StepResult{CampaignID: c.ID, Completed: true, NextDecision: model.Delay(0)}
	e.publish(ctx, c, res)
	return res, nil
}

// complete moves a running campaign to completed. A lost race is not an
// error; the returned campaign carries whatever status won.
func (e *Executor) complete(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if _, ok := model.NextStatus(c.Status, model.ActionComplete); ok {
		err := e.Campaigns.TransitionStatus(ctx, c.ID, c.Status, model.CampaignStatusCompleted, e.now())
		if err != nil && !errors.Is(err, appErrors.ErrStaleStatus) {
			return nil, fmt.Errorf("failed to complete campaign %d: %w", c.ID, err)
		}
		if err == nil {
			log.WithField("campaign_id", c.ID).Info("🏁 Campaign completed")
		}
	}
	return e.Campaigns.GetByID(ctx, c.ID)
}

func (e *Executor) publish(ctx context.Context, c *model.Campaign, res *model.StepResult) {
	if e.Progress == nil {
		return
	}
	var step *model.StepResult
	if res.RecipientID != 0 {
		step = res
	}
	if err := e.Progress.Publish(ctx, progress.NewSnapshot(c, step, e.now())); err != nil {
		log.WithError(err).WithField("campaign_id", c.ID).Warn("⚠️ Failed to publish progress")
	}
}
