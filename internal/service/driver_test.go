package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/unclebandit/broadcast-dispatcher/internal/model"
	"github.com/unclebandit/broadcast-dispatcher/internal/service"
)

func TestDriverPauseThenResumeContinues(t *testing.T) {
	h := newHarness(t)
	c := h.createRunning(t, 5, quietPacing())

	sleeps := 0
	d := service.NewDriver(h.exec, h.store.Campaigns, time.Hour)
	d.Sleep = func(ctx context.Context, dur time.Duration) error {
		sleeps++
		h.clock.Advance(dur)
		if sleeps == 2 {
			_, err := h.svc.PauseCampaign(ctx, c.ID)
			require.NoError(t, err)
		}
		return nil
	}

	reason, err := d.Run(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StopPaused, reason)
	assert.Equal(t, []string{phone(1), phone(2)}, h.sender.Calls())
	assert.Equal(t, 3, h.campaign(t, c.ID).Remaining())

	_, err = h.svc.ResumeCampaign(context.Background(), c.ID)
	require.NoError(t, err)

	// a fresh driver picks up where the last one stopped
	d2 := service.NewDriver(h.exec, h.store.Campaigns, time.Hour)
	d2.Sleep = func(context.Context, time.Duration) error { return nil }
	reason, err = d2.Run(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StopCompleted, reason)
	assert.Equal(t, []string{phone(1), phone(2), phone(3), phone(4), phone(5)}, h.sender.Calls())
	h.requireReconciled(t, c.ID)
}

func TestDriverStopsOnCancelledAndNotRunning(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, 2, quietPacing())

	d := service.NewDriver(h.exec, h.store.Campaigns, time.Second)
	reason, err := d.Run(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StopNotRunning, reason)

	_, err = h.svc.StartCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	_, err = h.svc.CancelCampaign(context.Background(), c.ID)
	require.NoError(t, err)

	reason, err = d.Run(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StopCancelled, reason)
	assert.Empty(t, h.sender.Calls())
}

type scriptedExecutor struct {
	mu      sync.Mutex
	results []*model.StepResult
	err     error
	calls   int
}

func (s *scriptedExecutor) ExecuteStep(context.Context, int) (*model.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r, nil
}

type statusReader struct {
	mu     sync.Mutex
	status model.CampaignStatus
}

func (s *statusReader) set(st model.CampaignStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *statusReader) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &model.Campaign{ID: id, Status: s.status}, nil
}

func TestDriverSlicesLongWaits(t *testing.T) {
	exec := &scriptedExecutor{results: []*model.StepResult{{NextDecision: model.Delay(time.Hour)}}}
	reader := &statusReader{status: model.CampaignStatusRunning}

	var slept []time.Duration
	d := service.NewDriver(exec, reader, 10*time.Minute)
	d.Sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		if len(slept) == 3 {
			reader.set(model.CampaignStatusPaused)
		}
		return nil
	}

	reason, err := d.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, service.StopPaused, reason)
	assert.Equal(t, []time.Duration{10 * time.Minute, 10 * time.Minute, 10 * time.Minute}, slept)
	assert.Equal(t, 1, exec.calls)
}

func TestDriverWaitUntilUsesClock(t *testing.T) {
	now := monday10
	until := now.Add(90 * time.Second)
	exec := &scriptedExecutor{results: []*model.StepResult{
		{NextDecision: model.WaitUntil(until)},
		{Completed: true},
	}}
	reader := &statusReader{status: model.CampaignStatusRunning}

	var total time.Duration
	d := service.NewDriver(exec, reader, time.Minute)
	d.Now = func() time.Time { return now }
	d.Sleep = func(_ context.Context, dur time.Duration) error {
		total += dur
		return nil
	}

	reason, err := d.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, service.StopCompleted, reason)
	assert.Equal(t, 90*time.Second, total)
}

func TestDriverReturnsUnrecoverableError(t *testing.T) {
	boom := errors.New("database unavailable")
	d := service.NewDriver(&scriptedExecutor{err: boom}, &statusReader{status: model.CampaignStatusRunning}, time.Second)

	reason, err := d.Run(context.Background(), 1)
	assert.Equal(t, service.StopError, reason)
	assert.ErrorIs(t, err, boom)
}

func TestDriverHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := &scriptedExecutor{results: []*model.StepResult{{NextDecision: model.Delay(time.Hour)}}}
	d := service.NewDriver(exec, &statusReader{status: model.CampaignStatusRunning}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan service.StopReason)
	go func() {
		reason, _ := d.Run(ctx, 1)
		done <- reason
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case reason := <-done:
		assert.Equal(t, service.StopContext, reason)
	case <-time.After(time.Second):
		t.Fatal("driver ignored cancellation")
	}
}
