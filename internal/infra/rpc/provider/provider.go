// Package provider implements the upstream endpoints the RPC monitor probes.
//
// This package contains:
//   - Provider interface: a named endpoint that can report its chain head
//   - HTTPProvider: JSON-RPC over HTTP
//   - GRPCProvider: gRPC health checking
//   - ThrottleTracker: latency and rate-limit tracking
package provider

import (
	"context"
	"fmt"
	"time"
)

// Status is the result of one successful check.
type Status struct {
	// LatestBlock is the chain head reported by the endpoint, zero when the
	// transport has no notion of blocks.
	LatestBlock uint64
	Latency     time.Duration
}

// Provider is one upstream endpoint.
type Provider interface {
	// Name returns the provider identifier (e.g., "alchemy", "infura")
	Name() string

	// Method names the call Check performs
	Method() string

	// Check performs a single probe
	Check(ctx context.Context) (Status, error)

	// Health returns current health metrics
	Health() HealthStatus

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool           `json:"available"`
	Latency       time.Duration  `json:"latency"`
	ErrorRate     float64        `json:"error_rate"`
	LastSuccessAt time.Time      `json:"last_success_at"`
	LastFailureAt time.Time      `json:"last_failure_at"`
	Throttle      *ThrottleStats `json:"throttle,omitempty"`
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case 429:
		return "rate limited (429)"
	case 403:
		return "ip blocked (403)"
	default:
		return fmt.Sprintf("http %d: %s", e.Code, e.Body)
	}
}

// Retryable reports whether the response is transient.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code      int
	Message   string
	Throttled bool
}

func (e *RPCError) Error() string {
	if e.Throttled {
		return fmt.Sprintf("throttle in rpc error: %s", e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the error is a provider-side throttle.
func (e *RPCError) Retryable() bool {
	return e.Throttled
}

// health accumulates success and failure counts into a HealthStatus.
type health struct {
	status       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

func newHealth() health {
	return health{status: HealthStatus{Available: true, LastSuccessAt: time.Now()}}
}

func (h *health) recordSuccess(latency time.Duration) {
	h.successCount++
	h.requestCount++
	h.totalLatency += latency
	h.status.LastSuccessAt = time.Now()
	h.status.Available = true
	h.status.ErrorRate = float64(h.failureCount) / float64(h.requestCount)
	h.status.Latency = h.totalLatency / time.Duration(h.successCount)
}

func (h *health) recordFailure() {
	h.failureCount++
	h.requestCount++
	h.status.LastFailureAt = time.Now()
	h.status.ErrorRate = float64(h.failureCount) / float64(h.requestCount)

	if h.status.ErrorRate > 0.5 {
		h.status.Available = false
	}
}
