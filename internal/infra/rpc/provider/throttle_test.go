package provider

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestThrottleTracker_Latency(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := NewThrottleTracker(clock.now)

	tr.ObserveLatency(time.Second)
	for i := 0; i < latencySamples; i++ {
		tr.ObserveLatency(50 * time.Millisecond)
	}

	stats := tr.Stats()
	if stats.RecentRequests != latencySamples+1 {
		t.Errorf("RecentRequests = %d, want %d", stats.RecentRequests, latencySamples+1)
	}
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 50ms once the oldest sample rolls off", stats.AverageLatency)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", stats.Status)
	}

	clock.advance(requestWindow + time.Second)
	if got := tr.Stats().RecentRequests; got != 0 {
		t.Errorf("RecentRequests after window = %d, want 0", got)
	}
}

func TestThrottleTracker_Degraded(t *testing.T) {
	tr := NewThrottleTracker(nil)
	for i := 0; i < minSlowSamples+1; i++ {
		tr.ObserveLatency(4 * time.Second)
	}
	if got := tr.Status(); got != StatusDegraded {
		t.Errorf("Status = %s, want degraded", got)
	}
}

func TestThrottleTracker_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		times      int
		retryAfter string
		want       ProviderStatus
		cooldown   time.Duration
	}{
		{"single 429 tolerated", 429, 1, "", StatusHealthy, rateLimitCooldown},
		{"repeated 429 throttles", 429, rateLimitTolerance + 1, "30", StatusThrottled, 30 * time.Second},
		{"403 blocks", 403, 1, "", StatusBlocked, blockedCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
			tr := NewThrottleTracker(clock.now)
			for i := 0; i < tt.times; i++ {
				tr.ObserveRejection(tt.code, tt.retryAfter)
			}

			if got := tr.Status(); got != tt.want {
				t.Errorf("Status = %s, want %s", got, tt.want)
			}
			if got := tr.CoolDown(); got != tt.cooldown {
				t.Errorf("CoolDown = %v, want %v", got, tt.cooldown)
			}

			clock.advance(tt.cooldown)
			if got := tr.Status(); got != StatusHealthy {
				t.Errorf("Status after cool-down = %s, want healthy", got)
			}
			if got := tr.CoolDown(); got != 0 {
				t.Errorf("CoolDown after expiry = %v, want 0", got)
			}
		})
	}
}

func TestMatchesThrottle(t *testing.T) {
	if !MatchesThrottle("Project Rate Limit reached") {
		t.Error("expected match")
	}
	if MatchesThrottle("execution reverted") {
		t.Error("unexpected match")
	}
}
