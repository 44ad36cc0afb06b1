package llm

import (
	"testing"
	"time"
)

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(3, time.Minute)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		b.Failure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}
	b.Failure()
	if b.State() != Open || b.Allow() {
		t.Fatalf("state = %s, want open and refusing", b.State())
	}

	now = now.Add(30 * time.Second)
	if b.Allow() {
		t.Error("breaker let a call through before recovery")
	}

	now = now.Add(31 * time.Second)
	if !b.Allow() || b.State() != HalfOpen {
		t.Fatalf("state = %s, want half_open after recovery", b.State())
	}

	b.Failure()
	if b.State() != Open {
		t.Fatalf("failure while half-open should reopen, got %s", b.State())
	}

	now = now.Add(2 * time.Minute)
	b.Allow()
	b.Success()
	if b.State() != Closed {
		t.Errorf("success should close, got %s", b.State())
	}
	b.Failure()
	if b.State() != Closed {
		t.Error("failure count must reset after success")
	}
}

func TestNewBreakerDefaults(t *testing.T) {
	b := NewBreaker(0, 0)
	if b.Threshold != 3 || b.Recovery != 5*time.Minute {
		t.Errorf("defaults = %d %s", b.Threshold, b.Recovery)
	}
}
