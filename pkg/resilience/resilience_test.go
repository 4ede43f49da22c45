package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBreaker(threshold int, timeout time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(BreakerOpts{FailThreshold: threshold, Timeout: timeout, HalfOpenMax: 1})
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func failing(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if b.State() != StateClosed {
			t.Fatalf("state = %s before threshold", b.State())
		}
		if err := b.Call(ctx, failing(boom)); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s after threshold, want open", b.State())
	}
	if err := b.Call(ctx, failing(nil)); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker admitted a call: %v", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	b.Call(ctx, failing(boom))
	b.Call(ctx, failing(boom))
	b.Call(ctx, failing(nil)) // success resets the streak
	b.Call(ctx, failing(boom))
	b.Call(ctx, failing(boom))

	if b.State() != StateClosed {
		t.Errorf("state = %s, interleaved success must reset the streak", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)
	ctx := context.Background()

	b.Call(ctx, failing(errors.New("boom")))
	if b.State() != StateOpen {
		t.Fatalf("state = %s", b.State())
	}

	*clock = clock.Add(2 * time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s after timeout, want half-open", b.State())
	}

	// Successful probe closes the breaker.
	if err := b.Call(ctx, failing(nil)); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s after probe success", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)
	ctx := context.Background()

	b.Call(ctx, failing(errors.New("boom")))
	*clock = clock.Add(2 * time.Minute)

	if err := b.Call(ctx, failing(errors.New("still down"))); err == nil {
		t.Fatal("probe should have failed")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %s, failed probe must reopen", b.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)
	ctx := context.Background()

	b.Call(ctx, failing(errors.New("boom")))
	*clock = clock.Add(2 * time.Minute)

	probes := 0
	probe := func(context.Context) error {
		probes++
		return nil
	}
	if err := b.Call(ctx, probe); err != nil {
		t.Fatal(err)
	}
	if probes != 1 {
		t.Errorf("probes = %d", probes)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s after successful probe", b.State())
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("state names")
	}
}

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(1, 2)
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst tokens not available")
	}
	if l.Allow() {
		t.Error("third immediate call should be limited")
	}
}

func TestLimiter_Call(t *testing.T) {
	l := NewLimiter(1, 1)
	ctx := context.Background()

	called := false
	if err := l.Call(ctx, func(context.Context) error { called = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("function not invoked")
	}
	if err := l.Call(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected rate limit, got %v", err)
	}
}

func TestLimiter_WaitCancellation(t *testing.T) {
	l := NewLimiter(0.001, 1)
	l.Allow() // drain the only token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("wait should fail when the context expires first")
	}
}

func TestLimiter_CallWait(t *testing.T) {
	l := NewLimiter(1000, 1)
	ctx := context.Background()

	called := false
	if err := l.CallWait(ctx, func(context.Context) error { called = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("function not invoked")
	}

	// With the bucket drained and a dead context, the wait must surface
	// the cancellation instead of running the function.
	slow := NewLimiter(0.001, 1)
	slow.Allow()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := slow.CallWait(cancelled, func(context.Context) error {
		t.Fatal("function ran despite cancelled wait")
		return nil
	})
	if err == nil {
		t.Error("expected a cancellation error")
	}
}
