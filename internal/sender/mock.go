package sender

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockSender simulates a channel that accepts SuccessRate of the messages.
type MockSender struct {
	SuccessRate float64
	Latency     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
	seq int
}

func NewMockSender(successRate float64, seed int64) *MockSender {
	return &MockSender{SuccessRate: successRate, rnd: rand.New(rand.NewSource(seed))}
}

func (m *MockSender) Send(ctx context.Context, channelInstanceID, address, message string) (Result, error) {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	m.mu.Lock()
	r := m.rnd.Float64()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	if r < m.SuccessRate {
		return Result{Success: true, ExternalMessageID: fmt.Sprintf("mock-%s-%d", channelInstanceID, seq)}, nil
	}
	return Result{ErrorMessage: "mock sending failed"}, nil
}
