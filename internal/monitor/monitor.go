// Package monitor polls upstream RPC providers through a per-provider
// circuit breaker wrapped around the blockchain retry policy.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/errorlog"
	"github.com/vietddude/chainguard/internal/infra/rpc/provider"
	"github.com/vietddude/chainguard/internal/metrics"
	"github.com/vietddude/chainguard/internal/resilience/breaker"
	"github.com/vietddude/chainguard/internal/resilience/retry"
)

const (
	DefaultInterval         = 15 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 60 * time.Second
)

// ErrorReporter receives terminal probe failures.
type ErrorReporter interface {
	LogError(ctx context.Context, err error, fields map[string]any)
}

// ProviderSnapshot is the last known state of one provider.
type ProviderSnapshot struct {
	Name         string                `json:"name"`
	Method       string                `json:"method"`
	LatestBlock  uint64                `json:"latest_block"`
	Latency      time.Duration         `json:"latency"`
	BreakerState breaker.State         `json:"breaker_state"`
	LastError    string                `json:"last_error,omitempty"`
	LastChecked  time.Time             `json:"last_checked"`
	Health       provider.HealthStatus `json:"health"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithBreaker sets the breaker threshold and open timeout used per provider.
func WithBreaker(threshold int, timeout time.Duration) Option {
	return func(m *Monitor) {
		m.threshold = threshold
		m.timeout = timeout
	}
}

// WithRetry appends options to the blockchain retry policy.
func WithRetry(opts ...retry.Option) Option {
	return func(m *Monitor) { m.retryOpts = append(m.retryOpts, opts...) }
}

// WithReporter forwards terminal failures to r.
func WithReporter(r ErrorReporter) Option {
	return func(m *Monitor) { m.reporter = r }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

type target struct {
	provider provider.Provider
	breaker  *breaker.Breaker
}

// Monitor polls a fixed set of providers.
type Monitor struct {
	interval  time.Duration
	threshold int
	timeout   time.Duration
	retryOpts []retry.Option
	reporter  ErrorReporter
	log       *slog.Logger

	targets []target

	mu        sync.RWMutex
	snapshots map[string]ProviderSnapshot
}

// New creates a monitor over providers.
func New(providers []provider.Provider, opts ...Option) *Monitor {
	m := &Monitor{
		interval:  DefaultInterval,
		threshold: DefaultBreakerThreshold,
		timeout:   DefaultBreakerTimeout,
		log:       slog.Default(),
		snapshots: make(map[string]ProviderSnapshot),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, p := range providers {
		log := m.log
		b := breaker.New("rpc:"+p.Name(), m.threshold, m.timeout,
			breaker.WithStateChange(func(name string, from, to breaker.State) {
				log.Warn("Provider breaker changed state", "breaker", name, "from", from, "to", to)
			}),
		)
		m.targets = append(m.targets, target{provider: p, breaker: b})
		m.snapshots[p.Name()] = ProviderSnapshot{
			Name:         p.Name(),
			Method:       p.Method(),
			BreakerState: breaker.StateClosed,
		}
	}
	return m
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if len(m.targets) == 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PollOnce(ctx)
		}
	}
}

// PollOnce probes every provider concurrently and waits for all of them.
func (m *Monitor) PollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range m.targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			m.probe(ctx, t)
		}(t)
	}
	wg.Wait()
}

// Snapshot returns the last known state of every provider, sorted by name.
func (m *Monitor) Snapshot() []ProviderSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProviderSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Breaker returns the breaker guarding the named provider.
func (m *Monitor) Breaker(name string) *breaker.Breaker {
	for _, t := range m.targets {
		if t.provider.Name() == name {
			return t.breaker
		}
	}
	return nil
}

func (m *Monitor) probe(ctx context.Context, t target) {
	name := t.provider.Name()
	start := time.Now()

	attempts := 1
	policy := retry.BlockchainPolicy(append([]retry.Option{
		retry.WithEligible(eligible),
		retry.WithObserver(func(attempt int, err error) {
			attempts = attempt + 1
			m.log.Debug("Retrying provider probe", "provider", name, "attempt", attempt, "error", err)
		}),
	}, m.retryOpts...)...)

	status, err := breaker.Call(ctx, t.breaker, func(ctx context.Context) (provider.Status, error) {
		return retry.Do(ctx, policy, t.provider.Check)
	})
	elapsed := time.Since(start)

	metrics.RPCLatency.WithLabelValues(name).Observe(elapsed.Seconds())

	snap := ProviderSnapshot{
		Name:         name,
		Method:       t.provider.Method(),
		BreakerState: t.breaker.State(),
		LastChecked:  time.Now(),
		Health:       t.provider.Health(),
	}

	m.mu.Lock()
	prev := m.snapshots[name]
	if err == nil {
		snap.LatestBlock = status.LatestBlock
		snap.Latency = elapsed
	} else {
		snap.LatestBlock = prev.LatestBlock
		snap.Latency = prev.Latency
		snap.LastError = err.Error()
	}
	m.snapshots[name] = snap
	m.mu.Unlock()

	if err == nil {
		if status.LatestBlock > 0 {
			metrics.RPCLatestBlock.WithLabelValues(name).Set(float64(status.LatestBlock))
		}
		return
	}

	if errors.Is(err, breaker.ErrOpen) {
		m.log.Debug("Provider probe skipped, breaker open", "provider", name)
		return
	}
	if ctx.Err() != nil {
		return
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		attempts = exhausted.Attempts
	}

	m.log.Warn("Provider probe failed", "provider", name, "attempts", attempts, "error", err)
	if m.reporter != nil {
		m.reporter.LogError(ctx, errorlog.WithCategory(err, domain.CategoryBlockchain), map[string]any{
			"provider": name,
			"method":   t.provider.Method(),
			"attempts": attempts,
		})
	}
}

// eligible defers to the provider's own transient classification and falls
// back to the blockchain rules.
func eligible(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return retry.BlockchainRules.Eligible(err)
}
