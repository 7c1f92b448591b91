// Package timing provides the cancellable waits the tester loop is built from.
// Cancellation is carried by context.Context; a cancelled wait returns ctx.Err().
package timing

import (
	"context"
	"time"
)

const (
	// IdlePollInterval is how often IdleWait re-checks user activity
	IdlePollInterval = 100 * time.Millisecond
	// UserIdleGrace is how long the user must be idle before the loop resumes
	UserIdleGrace = 800 * time.Millisecond
	// SettleDelay follows every committing mutation so host-side state catches up
	SettleDelay = 50 * time.Millisecond
	// ErrorBackoff is the fixed wait after a failed loop iteration
	ErrorBackoff = 500 * time.Millisecond
)

// Clock abstracts time so waits can be driven by tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback
type Timer interface {
	Stop() bool
}

// RealClock is the production Clock backed by the time package
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Delay waits d or until ctx is done. An already-cancelled ctx fails before any
// timer is armed; a cancellation while pending stops the timer before returning.
func Delay(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d < 0 {
		d = 0
	}

	fired := make(chan struct{})
	t := clock.AfterFunc(d, func() { close(fired) })

	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// IdleWait polls lastActivity every IdlePollInterval until at least grace has
// passed since it, or ctx is done. A zero lastActivity counts as idle.
func IdleWait(ctx context.Context, clock Clock, grace time.Duration, lastActivity func() time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if clock.Now().Sub(lastActivity()) >= grace {
			return nil
		}
		if err := Delay(ctx, clock, IdlePollInterval); err != nil {
			return err
		}
	}
}
