package channel

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator is a stand-in channel client for development and tests. It
// succeeds with a configurable probability and fabricates provider ids.
type Simulator struct {
	mu          sync.Mutex
	successRate float64
	rand        *rand.Rand
	minLatency  time.Duration
	maxLatency  time.Duration
}

// NewSimulator creates a simulated channel client.
// successRate: probability of a successful send (0.0 to 1.0)
func NewSimulator(successRate float64) *Simulator {
	if successRate < 0.0 {
		successRate = 0.0
	}
	if successRate > 1.0 {
		successRate = 1.0
	}

	return &Simulator{
		successRate: successRate,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		minLatency:  50 * time.Millisecond,
		maxLatency:  200 * time.Millisecond,
	}
}

// Send simulates a provider call with network latency and random failures.
func (s *Simulator) Send(ctx context.Context, recipientID, content, tag string) (string, error) {
	s.mu.Lock()
	latency := s.minLatency + time.Duration(s.rand.Int63n(int64(s.maxLatency-s.minLatency)))
	roll := s.rand.Float64()
	rate := s.successRate
	s.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if roll >= rate {
		failures := []string{
			"network timeout",
			"recipient not available",
			"rate limit exceeded",
			"service temporarily unavailable",
			"message tag not allowed for this recipient",
		}
		s.mu.Lock()
		reason := failures[s.rand.Intn(len(failures))]
		s.mu.Unlock()
		return "", fmt.Errorf("failed to send to %s: %s", recipientID, reason)
	}

	return "m_" + uuid.NewString(), nil
}

// SetSuccessRate updates the success rate (for tests)
func (s *Simulator) SetSuccessRate(rate float64) {
	if rate < 0.0 {
		rate = 0.0
	}
	if rate > 1.0 {
		rate = 1.0
	}
	s.mu.Lock()
	s.successRate = rate
	s.mu.Unlock()
}
