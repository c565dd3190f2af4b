package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		from   CampaignStatus
		action Action
		want   CampaignStatus
		ok     bool
	}{
		{CampaignStatusDraft, ActionStart, CampaignStatusRunning, true},
		{CampaignStatusDraft, ActionSchedule, CampaignStatusScheduled, true},
		{CampaignStatusDraft, ActionPause, "", false},
		{CampaignStatusScheduled, ActionActivate, CampaignStatusRunning, true},
		{CampaignStatusScheduled, ActionStart, CampaignStatusRunning, true},
		{CampaignStatusRunning, ActionPause, CampaignStatusPaused, true},
		{CampaignStatusRunning, ActionComplete, CampaignStatusCompleted, true},
		{CampaignStatusRunning, ActionResume, "", false},
		{CampaignStatusPaused, ActionResume, CampaignStatusRunning, true},
		{CampaignStatusPaused, ActionCancel, CampaignStatusCancelled, true},
		{CampaignStatusPaused, ActionComplete, "", false},
		{CampaignStatusCompleted, ActionStart, "", false},
		{CampaignStatusCancelled, ActionResume, "", false},
	}

	for _, tc := range cases {
		got, ok := NextStatus(tc.from, tc.action)
		assert.Equal(t, tc.ok, ok, "%s + %s", tc.from, tc.action)
		assert.Equal(t, tc.want, got, "%s + %s", tc.from, tc.action)
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	actions := []Action{ActionStart, ActionSchedule, ActionActivate, ActionPause, ActionResume, ActionCancel, ActionComplete}
	for _, s := range []CampaignStatus{CampaignStatusCompleted, CampaignStatusCancelled} {
		assert.True(t, s.IsTerminal())
		for _, a := range actions {
			_, ok := NextStatus(s, a)
			assert.False(t, ok, "%s must reject %s", s, a)
		}
	}
}

func TestDecisionWait(t *testing.T) {
	now := mustTime("2026-03-02T10:00:00Z")
	assert.Equal(t, 3*time.Second, Delay(3*time.Second).Wait(now))
	assert.Equal(t, 10*time.Minute, Pause(10*time.Minute).Wait(now))
	assert.Zero(t, WaitUntil(now.Add(-time.Second)).Wait(now))
	assert.Equal(t, time.Hour, WaitUntil(now.Add(time.Hour)).Wait(now))
}
