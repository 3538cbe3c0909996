package retry

import (
	"sync"
	"time"
)

// BreakerState enumerates the circuit breaker states
type BreakerState int

const (
	// StateClosed lets calls through and counts failures
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the timeout elapses
	StateOpen
	// StateHalfOpen lets a probe call through; its outcome decides the next state
	StateHalfOpen
)

// String returns the lowercase state name
func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a per-endpoint-class circuit breaker.
// State is shared mutable and guarded by a mutex; construct one per external
// endpoint class and inject it, never share via a package singleton
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	lastFailure      time.Time
	failureThreshold int
	timeout          time.Duration
	now              func() time.Time

	// onOpen fires once per closed/half-open -> open transition (observability)
	onOpen func()
}

// BreakerOption mutates a Breaker during construction
type BreakerOption func(*Breaker)

// WithClock injects a clock, which makes testing transitions trivial
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithOnOpen registers a callback fired when the circuit opens
func WithOnOpen(fn func()) BreakerOption {
	return func(b *Breaker) { b.onOpen = fn }
}

// NewBreaker constructs a closed breaker
func NewBreaker(failureThreshold int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	b := &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether a call may proceed.
// In the open state it returns true only once the timeout has elapsed since
// the last failure, which also transitions the breaker to half-open
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// OnSuccess resets the failure count and forces the closed state
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = StateClosed
}

// OnFailure increments the failure count, records the timestamp, and opens
// the circuit when the threshold is reached. A failure while half-open
// reopens immediately
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	wasOpen := b.state == StateOpen
	if b.state == StateHalfOpen || b.failureCount >= b.failureThreshold {
		b.state = StateOpen
	}
	if b.state == StateOpen && !wasOpen && b.onOpen != nil {
		b.onOpen()
	}
}

// State returns the current state (for reporting)
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive failure count
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
