package llm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/kissbot/telemetry"
)

// State of a Breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker stops calling a failing inference server. After Threshold
// consecutive failures it opens; once Recovery has elapsed it lets calls
// through again (half-open) and closes on the first success.
type Breaker struct {
	Threshold int
	Recovery  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker returns a closed breaker. Non-positive values fall back to
// 3 failures and 5 minutes.
func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if recovery <= 0 {
		recovery = 5 * time.Minute
	}
	return &Breaker{Threshold: threshold, Recovery: recovery, now: time.Now}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.Recovery {
			return false
		}
		b.state = HalfOpen
		slog.Info("llm circuit half-open", slog.String("component", "llm"))
		return true
	default:
		return true
	}
}

// Success closes the breaker and resets the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		slog.Info("llm circuit closed", slog.String("component", "llm"))
	}
	b.state = Closed
	b.failures = 0
	telemetry.UpdateCircuitGauge(false)
}

// Failure records a failed call. A failure while half-open reopens at once.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == HalfOpen || b.failures >= b.Threshold {
		if b.state != Open {
			slog.Warn("llm circuit open", slog.String("component", "llm"), slog.Int("failures", b.failures))
		}
		b.state = Open
		b.openedAt = b.now()
		telemetry.UpdateCircuitGauge(true)
	}
}

// State returns the current state without transitioning.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
