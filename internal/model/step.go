package model

import "time"

type DecisionKind string

const (
	DecisionDelay     DecisionKind = "delay"
	DecisionPause     DecisionKind = "pause"
	DecisionWaitUntil DecisionKind = "wait_until"
)

// Decision tells the driver how long to wait before the next step.
type Decision struct {
	Kind  DecisionKind  `json:"kind"`
	Delay time.Duration `json:"delay_ns,omitempty"`
	Until *time.Time    `json:"until,omitempty"`
}

func Delay(d time.Duration) Decision { return Decision{Kind: DecisionDelay, Delay: d} }

func Pause(d time.Duration) Decision { return Decision{Kind: DecisionPause, Delay: d} }

func WaitUntil(t time.Time) Decision { return Decision{Kind: DecisionWaitUntil, Until: &t} }

// Wait returns the remaining wait relative to now. Never negative.
func (d Decision) Wait(now time.Time) time.Duration {
	var w time.Duration
	switch d.Kind {
	case DecisionWaitUntil:
		if d.Until != nil {
			w = d.Until.Sub(now)
		}
	default:
		w = d.Delay
	}
	if w < 0 {
		return 0
	}
	return w
}

// StepResult is what one dispatch step reports back to its caller.
type StepResult struct {
	CampaignID       int             `json:"campaign_id"`
	Completed        bool            `json:"completed"`
	Busy             bool            `json:"busy,omitempty"`
	Sent             bool            `json:"sent"`
	RecipientID      int             `json:"recipient_id,omitempty"`
	RecipientAddress string          `json:"recipient_address,omitempty"`
	Status           RecipientStatus `json:"status,omitempty"`
	Error            string          `json:"error,omitempty"`
	NextDecision     Decision        `json:"next_decision"`
	RemainingCount   int             `json:"remaining_count"`
}
