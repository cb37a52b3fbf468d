package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail(ctx context.Context) error    { return errBackend }
func succeed(ctx context.Context) error { return nil }

func newTestBreaker(threshold int, timeout time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New("test", threshold, timeout, WithClock(clock.Now)), clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, fail); err != errBackend {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
		if b.State() != StateClosed {
			t.Fatalf("call %d: state = %s, want closed", i, b.State())
		}
	}

	if err := b.Execute(ctx, fail); err != errBackend {
		t.Fatalf("third call: expected backend error, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Error("operation must not run while open")
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	if b.Failures() != 0 {
		t.Fatalf("failures = %d, want 0 after success", b.Failures())
	}

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed (failures not consecutive)", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name      string
		probe     func(context.Context) error
		wantState State
		wantFails int
	}{
		{"probe succeeds", succeed, StateClosed, 0},
		{"probe fails", fail, StateOpen, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(2, 30*time.Second)
			ctx := context.Background()

			_ = b.Execute(ctx, fail)
			_ = b.Execute(ctx, fail)
			if b.State() != StateOpen {
				t.Fatalf("state = %s, want open", b.State())
			}

			clock.Advance(29 * time.Second)
			if err := b.Execute(ctx, succeed); !errors.Is(err, ErrOpen) {
				t.Fatalf("before timeout: expected ErrOpen, got %v", err)
			}

			clock.Advance(time.Second)
			var during State
			_ = b.Execute(ctx, func(ctx context.Context) error {
				during = b.State()
				return tt.probe(ctx)
			})

			if during != StateHalfOpen {
				t.Errorf("state during probe = %s, want half-open", during)
			}
			if b.State() != tt.wantState {
				t.Errorf("state after probe = %s, want %s", b.State(), tt.wantState)
			}
			if b.Failures() != tt.wantFails {
				t.Errorf("failures = %d, want %d", b.Failures(), tt.wantFails)
			}
		})
	}
}

func TestBreaker_ReopenRestartsTimeout(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(10 * time.Second)
	_ = b.Execute(ctx, fail) // failed probe

	clock.Advance(5 * time.Second)
	if err := b.Execute(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen 5s after failed probe, got %v", err)
	}
}

func TestBreaker_PanickingProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(10 * time.Second)

	func() {
		defer func() {
			if r := recover(); r != "probe exploded" {
				t.Errorf("recovered %v, want the original panic", r)
			}
		}()
		_ = b.Execute(ctx, func(ctx context.Context) error { panic("probe exploded") })
	}()

	if b.State() != StateOpen {
		t.Fatalf("state after panicking probe = %s, want open", b.State())
	}

	clock.Advance(10 * time.Second)
	calls := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("next probe: err=%v calls=%d, want nil/1", err, calls)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("concurrent call during probe: expected ErrOpen, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	var transitions []State
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("reset", 1, time.Hour, WithClock(clock.Now), WithStateChange(func(name string, from, to State) {
		transitions = append(transitions, to)
	}))

	_ = b.Execute(context.Background(), fail)
	b.Reset()

	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("after Reset: state=%s failures=%d", b.State(), b.Failures())
	}
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Errorf("call after Reset: %v", err)
	}
	if len(transitions) != 2 || transitions[0] != StateOpen || transitions[1] != StateClosed {
		t.Errorf("transitions = %v, want [open closed]", transitions)
	}
}

func TestCall(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	got, err := Call(context.Background(), b, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Call() = %d, %v", got, err)
	}

	_, _ = Call(context.Background(), b, func(ctx context.Context) (int, error) {
		return 0, errBackend
	})
	if _, err := Call(context.Background(), b, func(ctx context.Context) (int, error) {
		return 1, nil
	}); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}
