package controller_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/broadcast-dispatcher/internal/controller"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/pacing"
	"github.com/unclebandit/broadcast-dispatcher/internal/progress"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
	"github.com/unclebandit/broadcast-dispatcher/internal/sender"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := repository.NewMemoryStore()
	exec := &service.Executor{
		Campaigns:   store.Campaigns,
		Recipients:  store.Recipients,
		Sender:      sender.NewMockSender(1, 1),
		Policy:      pacing.New(pacing.DefaultBusinessHours(), pacing.NewLockedRand(1)),
		Progress:    progress.Noop{},
		SendTimeout: time.Second,
		ClaimLease:  time.Minute,
		BusyBackoff: time.Second,
	}
	ctrl := &controller.CampaignController{CampaignService: &service.CampaignService{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
		Executor:      exec,
		Progress:      progress.Noop{},
	}}

	r := chi.NewRouter()
	r.Post("/campaigns", ctrl.CreateCampaign)
	r.Post("/campaigns/{id}/start", ctrl.StartCampaign)
	r.Post("/campaigns/{id}/pause", ctrl.PauseCampaign)
	r.Post("/campaigns/{id}/resume", ctrl.ResumeCampaign)
	r.Post("/campaigns/{id}/cancel", ctrl.CancelCampaign)
	r.Post("/campaigns/{id}/schedule", ctrl.ScheduleCampaign)
	r.Post("/campaigns/{id}/step", ctrl.ProcessStep)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createBody(recipients ...string) map[string]any {
	rs := []map[string]any{}
	for _, a := range recipients {
		rs = append(rs, map[string]any{"address": a, "variables": map[string]string{"first_name": "Alice"}})
	}
	return map[string]any{
		"name":                "Launch",
		"channel":             "sms",
		"channel_instance_id": "inst-1",
		"message_template":    "Hi {first_name}",
		"recipients":          rs,
		"pacing": map[string]any{
			"min_delay_seconds": 0, "max_delay_seconds": 0, "batch_size": 10, "batch_pause_minutes": 1,
		},
	}
}

func createCampaign(t *testing.T, h http.Handler, recipients ...string) model.Campaign {
	t.Helper()
	w := do(t, h, "POST", "/campaigns", createBody(recipients...))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var c model.Campaign
	if err := json.NewDecoder(w.Body).Decode(&c); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return c
}

func path(id int, action string) string {
	return "/campaigns/" + strconv.Itoa(id) + "/" + action
}

func TestCreateAndDriveCampaign(t *testing.T) {
	h := newRouter(t)
	c := createCampaign(t, h, "+254700000001", "+254700000002")
	assert.Equal(t, model.CampaignStatusDraft, c.Status)
	assert.Equal(t, 2, c.TotalRecipients)

	w := do(t, h, "POST", path(c.ID, "start"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, "POST", path(c.ID, "step"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res model.StepResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.True(t, res.Sent)
	assert.Equal(t, "+254700000001", res.RecipientAddress)
	assert.Equal(t, 1, res.RemainingCount)

	w = do(t, h, "POST", path(c.ID, "step"), nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.True(t, res.Completed)

	w = do(t, h, "POST", path(c.ID, "start"), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, h, "POST", path(c.ID, "step"), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPauseResumeCancelEndpoints(t *testing.T) {
	h := newRouter(t)
	c := createCampaign(t, h, "+254700000001")

	assert.Equal(t, http.StatusConflict, do(t, h, "POST", path(c.ID, "pause"), nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, "POST", path(c.ID, "start"), nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, "POST", path(c.ID, "pause"), nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, "POST", path(c.ID, "pause"), nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, "POST", path(c.ID, "resume"), nil).Code)

	w := do(t, h, "POST", path(c.ID, "cancel"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, model.CampaignStatusCancelled, got.Status)
}

func TestScheduleEndpoint(t *testing.T) {
	h := newRouter(t)
	c := createCampaign(t, h, "+254700000001")

	w := do(t, h, "POST", path(c.ID, "schedule"), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	w = do(t, h, "POST", path(c.ID, "schedule"), map[string]any{"scheduled_at": at})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, model.CampaignStatusScheduled, got.Status)
	assert.True(t, got.ScheduledAt.Equal(at))
}

func TestControllerErrors(t *testing.T) {
	h := newRouter(t)
	empty := createCampaign(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed json", "POST", "/campaigns", "{not json", http.StatusBadRequest},
		{"validation", "POST", "/campaigns", map[string]any{"channel": "fax"}, http.StatusBadRequest},
		{"bad id", "POST", "/campaigns/abc/start", nil, http.StatusBadRequest},
		{"not found", "POST", "/campaigns/999/start", nil, http.StatusNotFound},
		{"no recipients", "POST", path(empty.ID, "start"), nil, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}
