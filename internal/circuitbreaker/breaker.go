package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SkynetNext/stagepool/internal/metrics"
)

// ErrOpen is returned by Execute while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// State represents circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling a failing backend after maxFailures consecutive failures,
// then lets a single probe through once timeout has passed
type Breaker struct {
	name        string
	maxFailures int64
	timeout     time.Duration

	mu          sync.Mutex
	state       State
	failures    int64
	openedAt    time.Time
	probeActive bool
}

// NewBreaker creates a new circuit breaker reporting under name
func NewBreaker(name string, maxFailures int64, timeout time.Duration) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
	}
	b.report()
	return b
}

// Allow checks if the circuit breaker allows the request.
// In half-open state only one probe is allowed until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.timeout {
			return false
		}
		b.setState(StateHalfOpen)
		b.probeActive = true
		return true
	case StateHalfOpen:
		if b.probeActive {
			return false
		}
		b.probeActive = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful request
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeActive = false
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

// RecordFailure records a failed request
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeActive = false
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = time.Now()
		b.setState(StateOpen)
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Errors for which ignore returns true count as successes (e.g. a missing key).
// Cancellations and deadlines of the caller's context record nothing.
func (b *Breaker) Execute(fn func() error, ignore func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil || (ignore != nil && ignore(err)):
		b.RecordSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		b.abandon()
	default:
		b.RecordFailure()
	}
	return err
}

// abandon frees a half-open probe slot without recording an outcome
func (b *Breaker) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeActive = false
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState must be called with mu held
func (b *Breaker) setState(s State) {
	b.state = s
	b.report()
}

func (b *Breaker) report() {
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(b.state))
}
