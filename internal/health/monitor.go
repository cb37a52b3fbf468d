package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/monitor"
	"github.com/vietddude/chainguard/internal/resilience/breaker"
)

// ChannelSource exposes the realtime channel state.
type ChannelSource interface {
	State() domain.ConnectionState
	ReconnectAttempts() int
	GaveUp() bool
}

// ProviderSource exposes RPC provider snapshots.
type ProviderSource interface {
	Snapshot() []monitor.ProviderSnapshot
}

// ErrorSource exposes error log statistics.
type ErrorSource interface {
	Stats(ctx context.Context) domain.ErrorStats
}

// Monitor aggregates health status from the wired components. Nil sources
// are skipped.
type Monitor struct {
	channel   ChannelSource
	providers ProviderSource
	errors    ErrorSource
	cacheFor  time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. Reports are reused for cacheFor.
func NewMonitor(channel ChannelSource, providers ProviderSource, errs ErrorSource, cacheFor time.Duration) *Monitor {
	return &Monitor{
		channel:   channel,
		providers: providers,
		errors:    errs,
		cacheFor:  cacheFor,
	}
}

// CheckHealth builds a report, worst component status wins.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	report := HealthReport{SystemStatus: StatusHealthy, CheckedAt: time.Now()}

	if m.channel != nil {
		ch := channelHealth(m.channel)
		report.Channel = &ch
		report.SystemStatus = report.SystemStatus.worse(ch.Status)
	}

	if m.providers != nil {
		report.Providers = m.providers.Snapshot()
		report.SystemStatus = report.SystemStatus.worse(providersStatus(report.Providers))
	}

	if m.errors != nil {
		stats := m.errors.Stats(ctx)
		eh := ErrorHealth{
			Status:         StatusHealthy,
			TotalErrors:    stats.TotalErrors,
			CriticalErrors: stats.ErrorsBySeverity[domain.SeverityCritical],
		}
		if eh.CriticalErrors > 0 {
			eh.Status = StatusDegraded
		}
		report.Errors = &eh
		report.SystemStatus = report.SystemStatus.worse(eh.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

func channelHealth(src ChannelSource) ChannelHealth {
	h := ChannelHealth{
		Status:            StatusHealthy,
		State:             string(src.State()),
		ReconnectAttempts: src.ReconnectAttempts(),
		GaveUp:            src.GaveUp(),
	}

	switch {
	case h.GaveUp:
		h.Status = StatusCritical
	case src.State() != domain.ConnectionConnected:
		h.Status = StatusDegraded
	}
	return h
}

// providersStatus is critical when every breaker is open and degraded when
// any provider is failing.
func providersStatus(snaps []monitor.ProviderSnapshot) SystemStatus {
	if len(snaps) == 0 {
		return StatusHealthy
	}

	open := 0
	failing := 0
	for _, s := range snaps {
		if s.BreakerState == breaker.StateOpen {
			open++
		}
		if s.BreakerState != breaker.StateClosed || s.LastError != "" {
			failing++
		}
	}

	switch {
	case open == len(snaps):
		return StatusCritical
	case failing > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
