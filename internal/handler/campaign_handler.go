// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/unclebandit/broadcast-dispatcher/internal/controller"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

// CampaignHandler serves read-only campaign views.
type CampaignHandler struct {
	Service *service.CampaignService
}

func NewCampaignHandler(svc *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{Service: svc}
}

func pageParams(r *http.Request) (int, int) {
	page, pageSize := 1, 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	return page, pageSize
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), page, pageSize, channel, status)
	if err != nil {
		controller.WriteError(w, err)
		return
	}

	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandlerWithStats returns a campaign with counters recomputed
// from its recipients.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, err)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		controller.WriteError(w, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) ListRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, err)
		return
	}
	page, pageSize := pageParams(r)

	recipients, pagination, err := h.Service.ListRecipients(r.Context(), id, page, pageSize)
	if err != nil {
		controller.WriteError(w, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       recipients,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, err)
		return
	}

	var body service.PreviewRequest
	if r.ContentLength != 0 {
		if err := controller.DecodeJSON(r, &body); err != nil {
			controller.WriteError(w, err)
			return
		}
	}

	res, err := h.Service.RenderPreview(r.Context(), id, body)
	if err != nil {
		controller.WriteError(w, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, res)
}

// ProgressHandler returns the campaign's progress snapshot
func (h *CampaignHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	id, err := controller.CampaignID(r)
	if err != nil {
		controller.WriteError(w, err)
		return
	}

	snap, err := h.Service.GetProgress(r.Context(), id)
	if err != nil {
		controller.WriteError(w, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, snap)
}
