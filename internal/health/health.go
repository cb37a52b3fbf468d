// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/chainguard/internal/monitor"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

func (s SystemStatus) worse(other SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// ChannelHealth describes the realtime channel.
type ChannelHealth struct {
	Status            SystemStatus `json:"status"`
	State             string       `json:"state"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
	GaveUp            bool         `json:"gave_up"`
}

// ErrorHealth summarizes the error log.
type ErrorHealth struct {
	Status         SystemStatus `json:"status"`
	TotalErrors    int          `json:"total_errors"`
	CriticalErrors int          `json:"critical_errors"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	CheckedAt    time.Time                  `json:"checked_at"`
	Channel      *ChannelHealth             `json:"channel,omitempty"`
	Providers    []monitor.ProviderSnapshot `json:"providers,omitempty"`
	Errors       *ErrorHealth               `json:"errors,omitempty"`
}
