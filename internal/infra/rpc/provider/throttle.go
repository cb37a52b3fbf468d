package provider

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderStatus is the upstream's standing as seen from its responses.
type ProviderStatus int

const (
	StatusHealthy ProviderStatus = iota
	StatusDegraded
	StatusThrottled
	StatusBlocked
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "healthy"
	}
}

// MarshalText renders the status name in JSON.
func (s ProviderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	rateLimitCooldown = 60 * time.Second
	blockedCooldown   = 10 * time.Minute

	// rateLimitTolerance is how many 429s are absorbed before the
	// provider counts as throttled.
	rateLimitTolerance = 5

	latencySamples = 100
	minSlowSamples = 10
	slowLatency    = 3 * time.Second
	requestWindow  = time.Hour
)

var throttleMessages = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// ThrottleStats is a point-in-time view of a ThrottleTracker.
type ThrottleStats struct {
	Status         ProviderStatus `json:"status"`
	AverageLatency time.Duration  `json:"average_latency"`
	RateLimited    int            `json:"rate_limited"`
	Blocked        int            `json:"blocked"`
	RecentRequests int            `json:"recent_requests"`
	CoolDown       time.Duration  `json:"cool_down"`
}

// ThrottleTracker follows one provider's latency and rate-limit responses
// and decides when calls should be held back.
type ThrottleTracker struct {
	mu  sync.Mutex
	now func() time.Time

	latencies [latencySamples]time.Duration
	next      int
	filled    int

	// served holds success timestamps inside requestWindow, oldest first.
	served []time.Time

	rateLimited int
	blocked     int
	penaltyEnd  time.Time
}

// NewThrottleTracker returns a tracker reading time from now, or the wall
// clock when now is nil.
func NewThrottleTracker(now func() time.Time) *ThrottleTracker {
	if now == nil {
		now = time.Now
	}
	return &ThrottleTracker{now: now}
}

// ObserveLatency records a served request.
func (t *ThrottleTracker) ObserveLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latencies[t.next] = d
	t.next = (t.next + 1) % latencySamples
	if t.filled < latencySamples {
		t.filled++
	}

	now := t.now()
	t.served = append(t.served, now)
	t.expireLocked(now)
}

// ObserveRejection records a 429 or 403. retryAfter is the raw Retry-After
// header in seconds; other codes are ignored.
func (t *ThrottleTracker) ObserveRejection(code int, retryAfter string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	switch code {
	case 429:
		t.rateLimited++
		wait := rateLimitCooldown
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		t.penaltyEnd = now.Add(wait)
	case 403:
		t.blocked++
		t.penaltyEnd = now.Add(blockedCooldown)
	}
}

// MatchesThrottle reports whether an upstream error message is a quota or
// rate-limit complaint.
func MatchesThrottle(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range throttleMessages {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Status returns the provider's current standing.
func (t *ThrottleTracker) Status() ProviderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(t.now())
}

// CoolDown returns how long calls should still be held back.
func (t *ThrottleTracker) CoolDown() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.coolDownLocked(t.now())
}

// Stats returns a snapshot.
func (t *ThrottleTracker) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.expireLocked(now)
	return ThrottleStats{
		Status:         t.statusLocked(now),
		AverageLatency: t.averageLocked(),
		RateLimited:    t.rateLimited,
		Blocked:        t.blocked,
		RecentRequests: len(t.served),
		CoolDown:       t.coolDownLocked(now),
	}
}

func (t *ThrottleTracker) statusLocked(now time.Time) ProviderStatus {
	penalized := now.Before(t.penaltyEnd)
	switch {
	case penalized && t.blocked > 0:
		return StatusBlocked
	case penalized && t.rateLimited > rateLimitTolerance:
		return StatusThrottled
	case t.filled > minSlowSamples && t.averageLocked() > slowLatency:
		return StatusDegraded
	}
	return StatusHealthy
}

func (t *ThrottleTracker) coolDownLocked(now time.Time) time.Duration {
	return max(t.penaltyEnd.Sub(now), 0)
}

func (t *ThrottleTracker) averageLocked() time.Duration {
	if t.filled == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.latencies[:t.filled] {
		sum += d
	}
	return sum / time.Duration(t.filled)
}

func (t *ThrottleTracker) expireLocked(now time.Time) {
	cutoff := now.Add(-requestWindow)
	i := 0
	for i < len(t.served) && !t.served[i].After(cutoff) {
		i++
	}
	t.served = t.served[i:]
}
