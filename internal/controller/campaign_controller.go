// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

// CampaignController serves the campaign control API.
type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	c.mutate(w, r, c.CampaignService.StartCampaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.mutate(w, r, c.CampaignService.PauseCampaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.mutate(w, r, c.CampaignService.ResumeCampaign)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c.mutate(w, r, c.CampaignService.CancelCampaign)
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var body struct {
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	if body.ScheduledAt == nil {
		WriteError(w, errScheduledAtRequired)
		return
	}

	campaign, err := c.CampaignService.ScheduleCampaign(r.Context(), id, *body.ScheduledAt)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

// ProcessStep runs one dispatch step and returns its StepResult.
func (c *CampaignController) ProcessStep(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	res, err := c.CampaignService.ProcessOneStep(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (c *CampaignController) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, int) (*model.Campaign, error)) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	campaign, err := op(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}
