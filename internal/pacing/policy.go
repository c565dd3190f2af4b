// Package pacing decides how long the dispatcher waits between sends.
// Every function here is pure given its inputs and the injected random source.
package pacing

import (
	"math/rand"
	"sync"
	"time"

	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

// Rand is the random source used for inter-message jitter.
type Rand interface {
	Float64() float64
}

// LockedRand makes a seeded *rand.Rand safe for concurrent executors.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Input is the state the policy looks at. SentToday and SinceLastPause count
// real send attempts (sent or failed), including the one just made.
type Input struct {
	Config         model.PacingConfig
	SentToday      int
	SinceLastPause int
	Now            time.Time
}

type Policy struct {
	Hours BusinessHours
	Rand  Rand
}

func New(hours BusinessHours, r Rand) *Policy {
	if r == nil {
		r = globalRand{}
	}
	return &Policy{Hours: hours, Rand: r}
}

// Gate is evaluated before claiming a recipient. It returns a wait decision
// and true when sending right now would break the business-hours window or
// the daily cap.
func (p *Policy) Gate(in Input) (model.Decision, bool) {
	if in.Config.UseBusinessHours && !p.Hours.Contains(in.Now) {
		return model.WaitUntil(p.Hours.NextStart(in.Now)), true
	}
	if in.Config.DailyLimit > 0 && in.SentToday >= in.Config.DailyLimit {
		return model.WaitUntil(p.nextDay(in)), true
	}
	return model.Decision{}, false
}

// Decide is evaluated after a dispatch step that made a send attempt.
// resetBatch is true when the caller must zero the since-last-pause counter.
func (p *Policy) Decide(in Input) (d model.Decision, resetBatch bool) {
	if in.Config.UseBusinessHours && !p.Hours.Contains(in.Now) {
		return model.WaitUntil(p.Hours.NextStart(in.Now)), false
	}
	if in.Config.DailyLimit > 0 && in.SentToday >= in.Config.DailyLimit {
		return model.WaitUntil(p.nextDay(in)), false
	}
	if in.Config.BatchSize > 0 && in.SinceLastPause >= in.Config.BatchSize {
		return model.Pause(time.Duration(in.Config.BatchPauseMinutes) * time.Minute), true
	}
	return model.Delay(p.jitter(in.Config)), false
}

func (p *Policy) nextDay(in Input) time.Time {
	next := p.Hours.StartOfNextDay(in.Now)
	if in.Config.UseBusinessHours {
		next = p.Hours.NextStart(next)
	}
	return next
}

func (p *Policy) jitter(cfg model.PacingConfig) time.Duration {
	lo, hi := cfg.MinDelaySeconds, cfg.MaxDelaySeconds
	if hi < lo {
		hi = lo
	}
	span := float64(hi-lo) * p.Rand.Float64()
	return time.Duration((float64(lo) + span) * float64(time.Second))
}
