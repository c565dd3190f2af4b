package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/pacing"
	"github.com/unclebandit/broadcast-dispatcher/internal/progress"
	"github.com/unclebandit/broadcast-dispatcher/internal/repository"
	"github.com/unclebandit/broadcast-dispatcher/internal/sender"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

// Monday
var monday10 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// recordingSender succeeds unless the address is marked failing or hanging.
type recordingSender struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	hang  map[string]bool
}

func (s *recordingSender) Send(ctx context.Context, instance, address, message string) (sender.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, address)
	n := len(s.calls)
	fail, hang := s.fail[address], s.hang[address]
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return sender.Result{}, ctx.Err()
	}
	if fail {
		return sender.Result{ErrorMessage: "rejected by channel"}, nil
	}
	return sender.Result{Success: true, ExternalMessageID: fmt.Sprintf("ext-%d", n)}, nil
}

func (s *recordingSender) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []progress.Snapshot
}

func (p *recordingPublisher) Publish(_ context.Context, s progress.Snapshot) error {
	p.mu.Lock()
	p.snapshots = append(p.snapshots, s)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Last() progress.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[len(p.snapshots)-1]
}

func (p *recordingPublisher) Latest(_ context.Context, campaignID int) (*progress.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.snapshots) - 1; i >= 0; i-- {
		if p.snapshots[i].CampaignID == campaignID {
			s := p.snapshots[i]
			return &s, nil
		}
	}
	return nil, nil
}

type harness struct {
	store      *repository.MemoryStore
	clock      *fakeClock
	sender     *recordingSender
	progress   *recordingPublisher
	exec       *service.Executor
	svc        *service.CampaignService
	dispatched []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryStore(),
		clock:    &fakeClock{t: monday10},
		sender:   &recordingSender{fail: map[string]bool{}, hang: map[string]bool{}},
		progress: &recordingPublisher{},
	}
	h.exec = &service.Executor{
		Campaigns:   h.store.Campaigns,
		Recipients:  h.store.Recipients,
		Sender:      h.sender,
		Policy:      pacing.New(pacing.DefaultBusinessHours(), fixedRand(0.5)),
		Progress:    h.progress,
		SendTimeout: 50 * time.Millisecond,
		ClaimLease:  time.Minute,
		BusyBackoff: 2 * time.Second,
		Now:         h.clock.Now,
	}
	h.svc = &service.CampaignService{
		CampaignRepo:  h.store.Campaigns,
		RecipientRepo: h.store.Recipients,
		Executor:      h.exec,
		Progress:      h.progress,
		Now:           h.clock.Now,
		Dispatch: func(_ context.Context, id int) error {
			h.dispatched = append(h.dispatched, id)
			return nil
		},
	}
	return h
}

func phone(i int) string { return fmt.Sprintf("+25470000%04d", i) }

// create makes a draft sms campaign with n recipients.
func (h *harness) create(t *testing.T, n int, p model.PacingConfig) *model.Campaign {
	t.Helper()
	req := service.CreateCampaignRequest{
		Name:              "Launch",
		Channel:           model.ChannelSMS,
		ChannelInstanceID: "inst-1",
		MessageTemplate:   "Hi {name}",
		Pacing:            &p,
	}
	for i := 1; i <= n; i++ {
		req.Recipients = append(req.Recipients, service.RecipientInput{
			Address:   phone(i),
			Variables: map[string]string{"name": fmt.Sprintf("R%d", i)},
		})
	}
	c, err := h.svc.CreateCampaign(context.Background(), req)
	require.NoError(t, err)
	return c
}

func (h *harness) createRunning(t *testing.T, n int, p model.PacingConfig) *model.Campaign {
	t.Helper()
	c := h.create(t, n, p)
	c, err := h.svc.StartCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, model.CampaignStatusRunning, c.Status)
	return c
}

func (h *harness) campaign(t *testing.T, id int) *model.Campaign {
	t.Helper()
	c, err := h.store.Campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) step(t *testing.T, id int) *model.StepResult {
	t.Helper()
	res, err := h.exec.ExecuteStep(context.Background(), id)
	require.NoError(t, err)
	return res
}

// requireReconciled checks the stored counters against recipient rows.
func (h *harness) requireReconciled(t *testing.T, id int) {
	t.Helper()
	c := h.campaign(t, id)
	stats, err := h.store.Campaigns.GetCampaignStats(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, stats["sent"], c.SentCount, "sent")
	require.Equal(t, stats["failed"], c.FailedCount, "failed")
	require.Equal(t, stats["skipped"], c.SkippedCount, "skipped")
	require.Equal(t, stats["total"], c.TotalRecipients, "total")
}

func quietPacing() model.PacingConfig {
	return model.PacingConfig{MinDelaySeconds: 1, MaxDelaySeconds: 3, BatchSize: 1000, BatchPauseMinutes: 10}
}
