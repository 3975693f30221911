// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

type Policy struct {
	Attempts int
	Delay    time.Duration
	// Timer drives the pause; nil uses a real timer.
	Timer backoff.Timer
	// Notify is called after a failed attempt that will be retried.
	Notify func(attempt int, err error, wait time.Duration)
}

func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do returns nil on the first successful attempt, otherwise the last error.
// Cancelling ctx aborts a pending pause and returns ctx.Err().
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		return op(ctx)
	}
	notify := func(err error, wait time.Duration) {
		if p.Notify != nil {
			p.Notify(attempt, err, wait)
		}
	}
	return backoff.RetryNotifyWithTimer(operation, b, notify, p.Timer)
}

// InstantTimer fires immediately and records every requested pause.
type InstantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func NewInstantTimer() *InstantTimer {
	return &InstantTimer{c: make(chan time.Time, 1)}
}

func (t *InstantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	select {
	case t.c <- time.Time{}:
	default:
	}
}

func (t *InstantTimer) Stop() {}

func (t *InstantTimer) C() <-chan time.Time { return t.c }

func (t *InstantTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
