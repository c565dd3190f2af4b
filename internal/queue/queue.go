package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handler processes one delivery. A non-nil error triggers a retry.
type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue is an in-process queue with retry
type InMemoryQueue struct {
	MaxRetries  int
	BaseBackoff time.Duration

	mu       sync.Mutex
	handlers map[string][]Handler
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		handlers:    make(map[string][]Handler),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	payload    []byte
	retryCount int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(_ context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}

	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(handler, job{topic: topic, payload: payload})
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler Handler, j job) {
	defer q.wg.Done()

	for {
		err := handler(q.ctx, j.payload)
		if err == nil {
			return
		}

		j.retryCount++
		entry := log.WithFields(log.Fields{"topic": j.topic, "attempt": j.retryCount, "max_retries": q.MaxRetries})
		if j.retryCount > q.MaxRetries {
			entry.WithError(err).Error("❌ Job permanently failed")
			return
		}
		entry.WithError(err).Warn("⚠️ Job failed, retrying")

		// Linear backoff before retry
		select {
		case <-time.After(time.Duration(j.retryCount) * q.BaseBackoff):
		case <-q.ctx.Done():
			return
		}
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close stops accepting jobs, aborts pending backoffs and waits for
// in-flight handlers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
