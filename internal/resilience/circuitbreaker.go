// Package resilience provides failure handling for external market data
// and webhook feeds.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"    // normal operation
	StateOpen     State = "OPEN"      // failing, rejecting requests
	StateHalfOpen State = "HALF_OPEN" // probing whether the feed recovered
)

// ErrOpen is returned when the circuit is open and the call is rejected.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the successes in half-open needed to close.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
}

// DefaultConfig returns thresholds suited to a polled daily-bar feed.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern around an external feed.
// A run of failures opens the circuit; calls are rejected until the
// cooldown passes, then a probe decides whether to close again.
type Breaker struct {
	name   string
	config Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	totalRequests int64
	totalFailures int64
	totalRejected int64
}

// NewBreaker creates a circuit breaker.
func NewBreaker(name string, config Config) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Do runs fn under the breaker. A context already cancelled counts as a
// failure of the caller, not the feed, and is returned without recording.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allow(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// Call runs a result-returning function under a breaker.
func Call[T any](b *Breaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) > b.config.Cooldown {
			b.transition(StateHalfOpen)
			return nil
		}
		b.totalRejected++
		return ErrOpen
	default:
		return nil
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(state State) {
	b.state = state
	b.failures = 0
	b.successes = 0
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Stats returns request counters for diagnostics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:          b.name,
		State:         b.state,
		TotalRequests: b.totalRequests,
		TotalFailures: b.totalFailures,
		TotalRejected: b.totalRejected,
	}
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// Stats holds breaker counters.
type Stats struct {
	Name          string
	State         State
	TotalRequests int64
	TotalFailures int64
	TotalRejected int64
}
