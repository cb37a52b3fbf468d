// Package retry runs fallible operations with bounded retries, backoff and
// an eligibility predicate.
//
// A sequence for one call is strictly sequential: attempt N+1 never starts
// before attempt N has returned. The only ways a sequence ends early are the
// eligibility predicate declining, the attempt budget running out, or the
// caller's context being cancelled while waiting between attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/chainguard/internal/metrics"
)

// DefaultJitterFactor is the jitter upper bound as a fraction of the delay.
const DefaultJitterFactor = 0.1

// Policy configures one retry sequence.
type Policy struct {
	// Name labels metrics (e.g. "network", "wallet").
	Name string

	// Retries is the number of retries after the first attempt.
	Retries int

	// Delay is the base delay between attempts.
	Delay time.Duration

	// Exponential doubles the delay for every retry when set.
	Exponential bool

	// MaxDelay caps the exponential delay. Zero means uncapped.
	MaxDelay time.Duration

	// JitterFactor bounds the random jitter added on top of the delay,
	// as a fraction of it. Jitter may push the sleep beyond MaxDelay.
	JitterFactor float64

	// Eligible reports whether a failure may be retried. Nil retries everything.
	Eligible func(error) bool

	// OnRetry is called with the 1-based attempt number and its error
	// before sleeping.
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned when every permitted attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op under the policy and returns its first successful result.
//
// When the final attempt fails the result is an *ExhaustedError wrapping the
// last failure. When Eligible declines a failure, that failure is returned
// unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	name := p.Name
	if name == "" {
		name = "custom"
	}
	retries := max(p.Retries, 0)

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(name, "success").Inc()
			return result, nil
		}

		if attempt >= retries {
			metrics.RetryAttempts.WithLabelValues(name, "exhausted").Inc()
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		if p.Eligible != nil && !p.Eligible(err) {
			metrics.RetryAttempts.WithLabelValues(name, "rejected").Inc()
			return zero, err
		}

		base := Backoff(p, attempt)
		delay := base + jitter(p, base)
		if delay < base {
			delay = base
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		metrics.RetryAttempts.WithLabelValues(name, "retry").Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Backoff returns the delay before retry index attempt (0-based), without jitter.
func Backoff(p Policy, attempt int) time.Duration {
	if !p.Exponential {
		return p.Delay
	}

	delay := float64(p.Delay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func jitter(p Policy, delay time.Duration) time.Duration {
	bound := int64(float64(delay) * p.JitterFactor)
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(bound))
}
