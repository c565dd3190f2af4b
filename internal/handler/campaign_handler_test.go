package handler_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/broadcast-dispatcher/internal/handler"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

func setup(t *testing.T, campaigns int) (http.Handler, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	for i := 1; i <= campaigns; i++ {
		c := &model.Campaign{
			Name:            "Campaign " + strconv.Itoa(i),
			Channel:         "sms",
			MessageTemplate: "Hi {first_name} from {city}",
			Pacing:          model.DefaultPacing(),
		}
		recipients := []model.Recipient{
			{Address: "+254700000001", Variables: map[string]string{"first_name": "Alice", "city": "Nairobi"}},
			{Address: "+254700000002", Variables: map[string]string{"first_name": "Bob"}},
		}
		require.NoError(t, store.Campaigns.Create(context.Background(), c, recipients))
	}

	h := handler.NewCampaignHandler(&service.CampaignService{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
	})
	r := chi.NewRouter()
	r.Get("/campaigns", h.ListCampaignsHandler)
	r.Get("/campaigns/{id}", h.GetCampaignHandlerWithStats)
	r.Get("/campaigns/{id}/recipients", h.ListRecipientsHandler)
	r.Get("/campaigns/{id}/progress", h.ProgressHandler)
	r.Post("/campaigns/{id}/preview", h.PreviewHandler)
	return r, store
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	return w
}

func TestListCampaignsPagination(t *testing.T) {
	h, _ := setup(t, 25)

	pageSize := 10
	seen := map[int]bool{}
	for page := 1; page <= 3; page++ {
		w := get(h, "/campaigns?page="+strconv.Itoa(page)+"&page_size="+strconv.Itoa(pageSize)+"&channel=sms&status=draft")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
				TotalPages int `json:"total_pages"`
			} `json:"pagination"`
		}
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if res.Pagination.Page != page {
			t.Errorf("expected page %d, got %d", page, res.Pagination.Page)
		}
		if res.Pagination.TotalCount != 25 || res.Pagination.TotalPages != 3 {
			t.Errorf("unexpected pagination %+v", res.Pagination)
		}
		for _, c := range res.Data {
			if seen[c.ID] {
				t.Errorf("duplicate campaign ID %d across pages", c.ID)
			}
			seen[c.ID] = true
		}
	}
	if len(seen) != 25 {
		t.Errorf("expected 25 unique campaigns, got %d", len(seen))
	}

	w := get(h, "/campaigns?status=running")
	assert.Contains(t, w.Body.String(), `"total_count":0`)
}

func TestGetCampaignWithStats(t *testing.T) {
	h, store := setup(t, 1)

	rcp, err := store.Recipients.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, store.Campaigns.TransitionStatus(context.Background(), rcp.CampaignID, model.CampaignStatusDraft, model.CampaignStatusRunning, rcp.CreatedAt))
	claimed, err := store.Recipients.ClaimNext(context.Background(), rcp.CampaignID, rcp.CreatedAt, 0)
	require.NoError(t, err)
	require.NoError(t, store.Recipients.RecordOutcome(context.Background(), claimed.ID, model.Outcome{Status: model.RecipientStatusSent, At: rcp.CreatedAt}))

	w := get(h, "/campaigns/1")
	require.Equal(t, http.StatusOK, w.Code)

	var details struct {
		ID        int            `json:"id"`
		Status    string         `json:"status"`
		SentCount int            `json:"sent_count"`
		Pending   int            `json:"pending"`
		Stats     map[string]int `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&details))
	assert.Equal(t, 1, details.ID)
	assert.Equal(t, "running", details.Status)
	assert.Equal(t, 1, details.SentCount)
	assert.Equal(t, 1, details.Pending)
	assert.Equal(t, map[string]int{"total": 2, "pending": 1, "sent": 1, "failed": 0, "skipped": 0}, details.Stats)

	assert.Equal(t, http.StatusNotFound, get(h, "/campaigns/42").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/campaigns/x").Code)
}

func TestListRecipients(t *testing.T) {
	h, _ := setup(t, 1)

	w := get(h, "/campaigns/1/recipients?page=2&page_size=1")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data []model.Recipient `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Data, 1)
	assert.Equal(t, "+254700000002", res.Data[0].Address)
	assert.Equal(t, 2, res.Data[0].ProcessingOrder)
}

func TestPreviewHandler(t *testing.T) {
	h, _ := setup(t, 1)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/campaigns/1/preview", strings.NewReader(`{"recipient_id": 2}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res service.PreviewResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "Hi Bob from ", res.RenderedMessage)
	assert.Equal(t, []string{"city"}, res.MissingVariables)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/campaigns/1/preview", strings.NewReader(`{"override_template": "Yo {first_name}", "variables": {"first_name": "Zed"}}`)))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "Yo Zed", res.RenderedMessage)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/campaigns/1/preview", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "Hi  from ", res.RenderedMessage)
}

func TestHugePageReturnsEmptyPage(t *testing.T) {
	h, _ := setup(t, 3)

	w := get(h, "/campaigns?page=92233720368547760&page_size=100")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data       []model.Campaign `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			TotalCount int `json:"total_count"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Empty(t, res.Data)
	assert.Equal(t, 3, res.Pagination.TotalCount)
	assert.Equal(t, math.MaxInt32/100+1, res.Pagination.Page)

	w = get(h, "/campaigns/1/recipients?page=92233720368547760")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestProgressHandler(t *testing.T) {
	h, _ := setup(t, 1)

	w := get(h, "/campaigns/1/progress")
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		CampaignID int    `json:"campaign_id"`
		Status     string `json:"status"`
		Total      int    `json:"total"`
		Pending    int    `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, 1, snap.CampaignID)
	assert.Equal(t, "draft", snap.Status)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 2, snap.Pending)

	assert.Equal(t, http.StatusNotFound, get(h, "/campaigns/42/progress").Code)
}
