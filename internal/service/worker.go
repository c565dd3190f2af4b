package service

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// CampaignRunner drives one campaign to a stop.
type CampaignRunner interface {
	Run(ctx context.Context, campaignID int) (StopReason, error)
}

var ErrWorkerStopped = errors.New("worker stopped")

// Worker runs campaign drivers from a job channel. At most one driver per
// campaign is active in a worker; a job for an active campaign makes that
// driver run once more after it stops, so a resume is never lost.
type Worker struct {
	Runner      CampaignRunner
	Concurrency int

	jobs chan int

	mu     sync.Mutex
	active map[int]bool
	rerun  map[int]bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Constructor
func NewWorker(runner CampaignRunner, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		Runner:      runner,
		Concurrency: concurrency,
		jobs:        make(chan int, 256),
		active:      make(map[int]bool),
		rerun:       make(map[int]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing jobs
func (w *Worker) Start() {
	for i := 0; i < w.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case id := <-w.jobs:
					w.process(id)
				case <-w.ctx.Done():
					return
				}
			}
		}()
	}
}

// Submit queues campaignID for driving.
func (w *Worker) Submit(campaignID int) error {
	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	if w.active[campaignID] {
		w.rerun[campaignID] = true
		w.mu.Unlock()
		log.WithField("campaign_id", campaignID).Debug("campaign already active in this worker")
		return nil
	}
	w.active[campaignID] = true
	w.mu.Unlock()

	select {
	case w.jobs <- campaignID:
		return nil
	case <-w.ctx.Done():
		w.release(campaignID)
		return ErrWorkerStopped
	}
}

func (w *Worker) process(campaignID int) {
	for {
		reason, err := w.Runner.Run(w.ctx, campaignID)
		entry := log.WithFields(log.Fields{"campaign_id": campaignID, "reason": reason})
		if err != nil {
			entry.WithError(err).Error("❌ Driver stopped with error")
		}

		w.mu.Lock()
		again := w.rerun[campaignID] && w.ctx.Err() == nil
		delete(w.rerun, campaignID)
		if !again {
			delete(w.active, campaignID)
		}
		w.mu.Unlock()

		if !again {
			return
		}
		entry.Debug("re-running driver after queued dispatch")
	}
}

func (w *Worker) release(campaignID int) {
	w.mu.Lock()
	delete(w.active, campaignID)
	delete(w.rerun, campaignID)
	w.mu.Unlock()
}

// Active reports whether a driver for campaignID is queued or running.
func (w *Worker) Active(campaignID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active[campaignID]
}

// Stop cancels running drivers and waits for them to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()
	w.wg.Wait()
}
