package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Error("Ok result misreports state")
	}
	v, err := ok.Unwrap()
	if v != 42 || err != nil {
		t.Errorf("unwrap = %d, %v", v, err)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() || !bad.IsErr() {
		t.Error("Err result misreports state")
	}
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("unwrap err = %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(1, nil); r.IsErr() {
		t.Error("nil error must be ok")
	}
	if r := FromPair(0, errors.New("x")); r.IsOk() {
		t.Error("non-nil error must not be ok")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(21), func(n int) int { return n * 2 })
	if r.Must() != 42 {
		t.Errorf("mapped = %d", r.Must())
	}

	boom := errors.New("boom")
	r = MapResult(Err[int](boom), func(n int) int { return n * 2 })
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Error("error not propagated through map")
	}
}

func TestCollect(t *testing.T) {
	vals, err := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)}).Unwrap()
	if err != nil || len(vals) != 3 {
		t.Fatalf("collect = %v, %v", vals, err)
	}

	boom := errors.New("boom")
	_, err = Collect([]Result[int]{Ok(1), Err[int](boom), Ok(3)}).Unwrap()
	if !errors.Is(err, boom) {
		t.Errorf("collect err = %v", err)
	}
}

func TestThen_ShortCircuits(t *testing.T) {
	ctx := context.Background()
	parse := Stage[string, int](func(_ context.Context, s string) Result[int] {
		return FromPair(strconv.Atoi(s))
	})
	ran := false
	double := Stage[int, int](func(_ context.Context, n int) Result[int] {
		ran = true
		return Ok(n * 2)
	})

	if got := Then(parse, double)(ctx, "21").Must(); got != 42 {
		t.Errorf("composed = %d", got)
	}

	ran = false
	r := Then(parse, double)(ctx, "not a number")
	if r.IsOk() {
		t.Error("expected failure")
	}
	if ran {
		t.Error("second stage ran after first failed")
	}
}

func TestMapStageAndTapStage(t *testing.T) {
	ctx := context.Background()
	upper := MapStage(func(n int) int { return n + 1 })
	if upper(ctx, 1).Must() != 2 {
		t.Error("map stage")
	}

	var seen int
	tap := TapStage(func(_ context.Context, n int) { seen = n })
	if tap(ctx, 7).Must() != 7 {
		t.Error("tap stage must pass through")
	}
	if seen != 7 {
		t.Error("tap side effect did not run")
	}
}

func TestTraced_PassesThrough(t *testing.T) {
	ctx := context.Background()
	stage := Traced("test.ok", MapStage(func(n int) int { return n * 3 }))
	if stage(ctx, 2).Must() != 6 {
		t.Error("traced stage changed the value")
	}

	boom := errors.New("boom")
	failing := Traced("test.fail", Stage[int, int](func(context.Context, int) Result[int] {
		return Err[int](boom)
	}))
	if _, err := failing(ctx, 1).Unwrap(); !errors.Is(err, boom) {
		t.Error("traced stage swallowed the error")
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[string] {
			attempts++
			if attempts < 3 {
				return Errf[string]("attempt %d failed", attempts)
			}
			return Ok("done")
		})
	if r.Must() != "done" {
		t.Error("retry did not recover")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d", attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("persistent")
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			attempts++
			return Err[int](boom)
		})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("final error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d", attempts)
	}
}

func TestRetry_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 10, InitialWait: time.Hour},
		func(context.Context) Result[int] {
			attempts++
			return Errf[int]("nope")
		})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 before the hour-long backoff", attempts)
	}
}

func TestParMapResult_OrderAndIsolation(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	results := ParMapResult(context.Background(), items, 3, func(_ context.Context, n int) Result[int] {
		if n%3 == 0 {
			return Errf[int]("item %d failed", n)
		}
		return Ok(n * 10)
	})

	if len(results) != len(items) {
		t.Fatalf("len = %d", len(results))
	}
	for i, r := range results {
		if i%3 == 0 {
			if r.IsOk() {
				t.Errorf("item %d should have failed", i)
			}
			continue
		}
		v, err := r.Unwrap()
		if err != nil || v != i*10 {
			t.Errorf("item %d = %d, %v", i, v, err)
		}
	}
}

func TestParMapResult_BoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	ParMapResult(context.Background(), make([]int, 32), 4, func(context.Context, int) Result[int] {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return Ok(0)
	})
	if peak.Load() > 4 {
		t.Errorf("peak concurrency = %d, bound 4", peak.Load())
	}
}

func TestParMapResult_Empty(t *testing.T) {
	if out := ParMapResult(context.Background(), nil, 4, func(context.Context, int) Result[int] {
		return Ok(1)
	}); len(out) != 0 {
		t.Errorf("len = %d", len(out))
	}
}

func TestJoin2(t *testing.T) {
	ctx := context.Background()

	a, b, err := Join2(ctx,
		func(context.Context) Result[int] { return Ok(1) },
		func(context.Context) Result[string] { return Ok("two") },
	)
	if err != nil || a != 1 || b != "two" {
		t.Fatalf("join = %d, %q, %v", a, b, err)
	}

	left := errors.New("left")
	right := errors.New("right")
	_, _, err = Join2(ctx,
		func(context.Context) Result[int] { return Err[int](left) },
		func(context.Context) Result[string] { return Err[string](right) },
	)
	if !errors.Is(err, left) {
		t.Errorf("err = %v, left error must win", err)
	}

	_, _, err = Join2(ctx,
		func(context.Context) Result[int] { return Ok(1) },
		func(context.Context) Result[string] { return Err[string](right) },
	)
	if !errors.Is(err, right) {
		t.Errorf("err = %v", err)
	}
}
