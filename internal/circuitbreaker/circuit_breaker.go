package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // calls rejected immediately
	StateHalfOpen              // limited trial calls allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// ErrOpen is returned when the breaker rejects a call without executing it.
// It is classified retryable by the worker pipeline.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker isolates a failing dependency. One Breaker per protected provider;
// state is in-process only.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	mu            sync.RWMutex
	state         State
	failureCount  int
	lastFailure   time.Time
	halfOpenCalls int
}

// New creates a breaker. failureThreshold consecutive failures open the
// circuit; after recoveryTimeout the next call is admitted as a half-open
// trial, limited to halfOpenMaxCalls concurrent probes.
func New(name string, failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) *Breaker {
	if halfOpenMaxCalls < 1 {
		halfOpenMaxCalls = 1
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		state:            StateClosed,
	}
}

// Call executes fn under breaker protection. The lock is never held across
// fn itself.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		b.release()
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.recoveryTimeout {
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
	}

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			return ErrOpen
		}
		b.halfOpenCalls++
	}
	return nil
}

// release undoes an admit that never ran fn (context already cancelled).
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}
}

func (b *Breaker) recordFailure() {
	b.failureCount++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.halfOpenCalls = 0
		return
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
	}
}

func (b *Breaker) recordSuccess() {
	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.halfOpenCalls = 0
	}
}

// Name returns the breaker's provider name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// FailureCount returns the consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCount
}
