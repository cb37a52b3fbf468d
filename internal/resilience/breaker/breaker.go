// Package breaker isolates a failing dependency behind a three-state
// circuit breaker.
//
// After Threshold consecutive failures the breaker opens and rejects calls
// with ErrOpen without running them. Once Timeout has elapsed since the last
// failure, the next call is let through as a probe (half-open); its outcome
// closes or reopens the breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vietddude/chainguard/internal/metrics"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

var errPanicked = errors.New("operation panicked")

// State is the breaker phase.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback fired on every transition.
// It runs with the breaker lock released.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a closed breaker.
func New(name string, threshold int, timeout time.Duration, opts ...Option) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.BreakerState.WithLabelValues(name).Set(StateClosed.gauge())
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op unless the breaker is open. A panic in op counts as a
// failure and is re-raised.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			b.after(errPanicked)
		}
	}()
	err := op(ctx)
	done = true
	b.after(err)
	return err
}

// Call is Execute for operations with a result.
func Call[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

// State returns the current phase without changing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure counter.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed with a zero failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probing = false
	b.setState(StateClosed)
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

func (b *Breaker) before() error {
	b.mu.Lock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.timeout {
			b.mu.Unlock()
			metrics.BreakerRejections.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return nil

	case StateHalfOpen:
		// A probe is already in flight.
		if b.probing {
			b.mu.Unlock()
			metrics.BreakerRejections.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.probing = true
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	from := b.state
	b.probing = false

	if err == nil {
		// A straggler that started before the breaker opened does not close it.
		if from != StateOpen {
			b.failures = 0
			b.setState(StateClosed)
		}
	} else {
		b.failures++
		b.lastFailure = b.now()
		if from == StateHalfOpen || b.failures >= b.threshold {
			b.setState(StateOpen)
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) setState(s State) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.name).Set(s.gauge())
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
