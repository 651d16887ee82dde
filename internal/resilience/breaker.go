// Package resilience provides reliability patterns for outbound calls to
// judge and tool endpoints.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker trips after a run of consecutive failures and rejects calls for a
// cooldown period. Once the cooldown elapses a single probe call is let
// through; its outcome decides whether the circuit closes or reopens.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time // zero while closed
	probing   bool
	now       func() time.Time // for testing
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		threshold: maxFailures,
		cooldown:  timeout,
		now:       time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openedAt.IsZero() && b.now().Sub(b.openedAt) < b.cooldown
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openedAt.IsZero() {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return ErrCircuitOpen
	}
	if b.probing {
		// A probe is already in flight; keep rejecting until it resolves.
		return ErrCircuitOpen
	}
	b.probing = true
	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.failures = 0
		b.openedAt = time.Time{}
		b.probing = false
		return
	}

	b.failures++
	if b.probing || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.probing = false
	}
}
