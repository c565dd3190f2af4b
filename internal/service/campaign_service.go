// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/progress"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
	"github.com/unclebandit/broadcast-dispatcher/internal/validation"
)

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Executor      StepExecutor
	// Dispatch hands a campaign that entered running to a driver. Optional.
	Dispatch DispatchFunc
	Progress progress.Publisher
	Now      func() time.Time
}

type RecipientInput struct {
	Address   string            `json:"address" validate:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

type CreateCampaignRequest struct {
	Name              string              `json:"name" validate:"required,max=255"`
	Channel           string              `json:"channel" validate:"channel"`
	ChannelInstanceID string              `json:"channel_instance_id" validate:"required"`
	MessageTemplate   string              `json:"message_template" validate:"required"`
	ScheduledAt       *time.Time          `json:"scheduled_at,omitempty"`
	Recipients        []RecipientInput    `json:"recipients" validate:"dive"`
	Pacing            *model.PacingConfig `json:"pacing,omitempty"`
}

type CampaignDetails struct {
	*model.Campaign
	Pending int            `json:"pending"`
	Stats   map[string]int `json:"stats"`
}

type PreviewRequest struct {
	RecipientID      int               `json:"recipient_id,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
	OverrideTemplate *string           `json:"override_template,omitempty"`
}

type PreviewResult struct {
	RenderedMessage  string   `json:"rendered_message"`
	UsedTemplate     string   `json:"used_template"`
	RecipientID      int      `json:"recipient_id,omitempty"`
	MissingVariables []string `json:"missing_variables"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateCampaign stores a draft campaign with its recipients in list order.
func (s *CampaignService) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*model.Campaign, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}

	pacing := model.DefaultPacing()
	if req.Pacing != nil {
		pacing = *req.Pacing
	}

	c := &model.Campaign{
		Name:              strings.TrimSpace(req.Name),
		Channel:           req.Channel,
		ChannelInstanceID: req.ChannelInstanceID,
		Status:            model.CampaignStatusDraft,
		MessageTemplate:   req.MessageTemplate,
		Pacing:            pacing,
		ScheduledAt:       req.ScheduledAt,
	}

	recipients := make([]model.Recipient, len(req.Recipients))
	for i, in := range req.Recipients {
		recipients[i] = model.Recipient{Address: strings.TrimSpace(in.Address), Variables: in.Variables}
	}

	if err := s.CampaignRepo.Create(ctx, c, recipients); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"campaign_id": c.ID, "recipients": c.TotalRecipients}).Info("📝 Campaign created")
	return c, nil
}

// StartCampaign moves a draft or scheduled campaign to running. A draft with
// a future scheduled_at is scheduled instead.
func (s *CampaignService) StartCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireRecipients(c, model.ActionStart); err != nil {
		return nil, err
	}

	if c.Status == model.CampaignStatusDraft && c.ScheduledAt != nil && c.ScheduledAt.After(s.now()) {
		return s.schedule(ctx, c, *c.ScheduledAt)
	}
	return s.transition(ctx, c, model.ActionStart)
}

// ScheduleCampaign sets a future start time.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, id int, at time.Time) (*model.Campaign, error) {
	if !at.After(s.now()) {
		return nil, appErrors.NewValidation("scheduled_at must be in the future")
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireRecipients(c, model.ActionSchedule); err != nil {
		return nil, err
	}
	return s.schedule(ctx, c, at)
}

func (s *CampaignService) PauseCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.apply(ctx, id, model.ActionPause)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.apply(ctx, id, model.ActionResume)
}

// CancelCampaign stops future dispatch. Pending recipients stay pending.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.apply(ctx, id, model.ActionCancel)
}

// ProcessOneStep runs a single dispatch step.
func (s *CampaignService) ProcessOneStep(ctx context.Context, id int) (*model.StepResult, error) {
	return s.Executor.ExecuteStep(ctx, id)
}

func (s *CampaignService) apply(ctx context.Context, id int, action model.Action) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, c, action)
}

func requireRecipients(c *model.Campaign, action model.Action) error {
	if c.Status == model.CampaignStatusDraft && c.TotalRecipients == 0 {
		return &appErrors.ErrInvalidStateTransition{
			CampaignID: c.ID,
			From:       string(c.Status),
			Action:     string(action),
			Reason:     "campaign has no recipients",
		}
	}
	return nil
}

func (s *CampaignService) transition(ctx context.Context, c *model.Campaign, action model.Action) (*model.Campaign, error) {
	to, ok := model.NextStatus(c.Status, action)
	if !ok {
		return nil, appErrors.NewInvalidStateTransition(c.ID, string(c.Status), string(action))
	}

	if err := s.CampaignRepo.TransitionStatus(ctx, c.ID, c.Status, to, s.now()); err != nil {
		return nil, s.lostRace(ctx, c.ID, action, err)
	}
	log.WithFields(log.Fields{"campaign_id": c.ID, "from": c.Status, "to": to}).Info("🔄 Campaign status changed")

	return s.afterChange(ctx, c.ID, to)
}

func (s *CampaignService) schedule(ctx context.Context, c *model.Campaign, at time.Time) (*model.Campaign, error) {
	if _, ok := model.NextStatus(c.Status, model.ActionSchedule); !ok {
		return nil, appErrors.NewInvalidStateTransition(c.ID, string(c.Status), string(model.ActionSchedule))
	}
	if err := s.CampaignRepo.Schedule(ctx, c.ID, c.Status, at); err != nil {
		return nil, s.lostRace(ctx, c.ID, model.ActionSchedule, err)
	}
	log.WithFields(log.Fields{"campaign_id": c.ID, "scheduled_at": at}).Info("⏰ Campaign scheduled")

	return s.afterChange(ctx, c.ID, model.CampaignStatusScheduled)
}

// lostRace turns a compare-and-set miss into a transition error against the
// status that won.
func (s *CampaignService) lostRace(ctx context.Context, id int, action model.Action, err error) error {
	if !errors.Is(err, appErrors.ErrStaleStatus) {
		return err
	}
	fresh, gerr := s.CampaignRepo.GetByID(ctx, id)
	if gerr != nil {
		return gerr
	}
	return &appErrors.ErrInvalidStateTransition{
		CampaignID: id,
		From:       string(fresh.Status),
		Action:     string(action),
		Reason:     "status changed concurrently",
	}
}

func (s *CampaignService) afterChange(ctx context.Context, id int, to model.CampaignStatus) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if to == model.CampaignStatusRunning && s.Dispatch != nil {
		if err := s.Dispatch(ctx, id); err != nil {
			// the scheduler's recovery sweep or a manual step still drives it
			log.WithError(err).WithField("campaign_id", id).Error("❌ Failed to dispatch campaign")
		}
	}
	if s.Progress != nil {
		if err := s.Progress.Publish(ctx, progress.NewSnapshot(c, nil, s.now())); err != nil {
			log.WithError(err).WithField("campaign_id", id).Warn("⚠️ Failed to publish progress")
		}
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	page, pageSize, offset := normalizePage(page, pageSize)

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, paginationMeta(page, pageSize, total), nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.CampaignRepo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, err
	}

	return &CampaignDetails{Campaign: campaign, Pending: stats[string(model.RecipientStatusPending)], Stats: stats}, nil
}

// ListRecipients returns the campaign's recipients in processing order.
func (s *CampaignService) ListRecipients(ctx context.Context, campaignID, page, pageSize int) ([]model.Recipient, map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := normalizePage(page, pageSize)

	ptrs, total, err := s.RecipientRepo.ListByCampaign(ctx, campaignID, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	recipients := make([]model.Recipient, len(ptrs))
	for i, r := range ptrs {
		recipients[i] = *r
	}
	return recipients, paginationMeta(page, pageSize, total), nil
}

// GetProgress returns the campaign's counters as stored, plus the last step
// outcome when the progress backend keeps one.
func (s *CampaignService) GetProgress(ctx context.Context, campaignID int) (*progress.Snapshot, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	snap := progress.NewSnapshot(c, nil, s.now())

	reader, ok := s.Progress.(progress.Reader)
	if !ok {
		return &snap, nil
	}
	last, err := reader.Latest(ctx, campaignID)
	if err != nil {
		log.WithError(err).WithField("campaign_id", campaignID).Warn("⚠️ Failed to read progress snapshot")
		return &snap, nil
	}
	if last != nil {
		snap.LastRecipientID = last.LastRecipientID
		snap.LastStatus = last.LastStatus
		snap.NextDecision = last.NextDecision
	}
	return &snap, nil
}

// RenderPreview renders the campaign template, or an override, for one of its
// recipients or for an ad-hoc variable set.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID int, req PreviewRequest) (*PreviewResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	template := campaign.MessageTemplate
	if req.OverrideTemplate != nil && strings.TrimSpace(*req.OverrideTemplate) != "" {
		template = *req.OverrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return nil, appErrors.NewValidation("template cannot be empty")
	}

	vars := req.Variables
	if req.RecipientID != 0 {
		rcp, err := s.RecipientRepo.GetByID(ctx, req.RecipientID)
		if err != nil {
			return nil, err
		}
		if rcp.CampaignID != campaignID {
			return nil, appErrors.ErrRecipientNotFound
		}
		vars = rcp.Variables
	}

	missing := []string{}
	for _, name := range TemplatePlaceholders(template) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}

	return &PreviewResult{
		RenderedMessage:  RenderTemplate(template, vars),
		UsedTemplate:     template,
		RecipientID:      req.RecipientID,
		MissingVariables: missing,
	}, nil
}

func normalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	// keep the offset inside what Postgres accepts
	if maxPage := math.MaxInt32/pageSize + 1; page > maxPage {
		page = maxPage
	}
	return page, pageSize, (page - 1) * pageSize
}

func paginationMeta(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}
