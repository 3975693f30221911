package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterAttempts(t *testing.T) {
	timer := NewInstantTimer()
	calls := 0
	boom := errors.New("boom")
	var notified []int
	err := Do(context.Background(), Policy{
		Attempts: 3,
		Delay:    time.Second,
		Timer:    timer,
		Notify:   func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) },
	}, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	waits := timer.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != time.Second {
		t.Fatalf("expected two 1s pauses, got %v", waits)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("unexpected notifications %v", notified)
	}
}

func TestDoReturnsOnFirstSuccess(t *testing.T) {
	timer := NewInstantTimer()
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Delay: time.Second, Timer: timer}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || len(timer.Waits()) != 1 {
		t.Fatalf("calls=%d waits=%v", calls, timer.Waits())
	}
}

func TestDoPermanentSkipsRetries(t *testing.T) {
	calls := 0
	bad := errors.New("bad input")
	err := Do(context.Background(), Policy{Attempts: 5, Timer: NewInstantTimer()}, func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	if !errors.Is(err, bad) || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 3, Delay: time.Hour}, func(context.Context) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
