package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HavenIQ/haven-engine/pkg/fn"
)

func TestLimiter_AllowRespectsBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected third immediate call to be limited")
	}
}

func TestLimiter_Refill(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 1})
	base := time.Now()
	l.now = func() time.Time { return base }
	if !l.Allow() {
		t.Fatal("first token")
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}
	// 100ms at 10/s refills one token.
	l.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	if !l.Allow() {
		t.Fatal("expected refilled token")
	}
}

func TestLimiter_NonPositiveRateClamped(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0, Burst: 1})
	base := time.Now()
	l.now = func() time.Time { return base }
	if !l.Allow() {
		t.Fatal("first token")
	}
	// At a zero rate Wait would never accumulate a token; the clamp makes
	// the bucket refill at 1/s.
	l.now = func() time.Time { return base.Add(time.Second) }
	if !l.Allow() {
		t.Fatal("expected token after one second at the clamped rate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.now = time.Now
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a bounded wait, got %v", err)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow() // drain

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLimiterStage_PassesThrough(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 10})
	stage := LimiterStage(l, fn.Stage[int, int](func(_ context.Context, n int) fn.Result[int] {
		return fn.Ok(n * 2)
	}))
	if v, _ := stage(context.Background(), 3).Unwrap(); v != 6 {
		t.Fatalf("got %d", v)
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := b.Call(ctx, fail); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Call(ctx, fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second})
	base := time.Now()
	b.now = func() time.Time { return base }

	ctx := context.Background()
	_ = b.Call(ctx, func(context.Context) error { return errors.New("x") })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.now = func() time.Time { return base.Add(2 * time.Second) }
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
}

func TestBreakerStage_OpensOnStageErrors(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	stage := BreakerStage(b, fn.Stage[int, int](func(_ context.Context, _ int) fn.Result[int] {
		return fn.Errf[int]("provider down")
	}))

	if stage(context.Background(), 1).IsOk() {
		t.Fatal("expected error")
	}
	_, err := stage(context.Background(), 1).Unwrap()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fast-fail with ErrCircuitOpen, got %v", err)
	}
}
