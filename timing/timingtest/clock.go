// Package timingtest provides controllable timing.Clock implementations for tests.
package timingtest

import (
	"sort"
	"sync"
	"time"

	"completiontester/timing"
)

// Epoch is the starting time of every test clock
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock only moves when Advance is called
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	created int
	armed   chan struct{}
}

func NewManualClock() *ManualClock {
	return &ManualClock{
		now:   Epoch,
		armed: make(chan struct{}, 1024),
	}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) timing.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fireTime: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.created++
	select {
	case c.armed <- struct{}{}:
	default:
	}
	return t
}

// Created returns how many timers have ever been armed
func (c *ManualClock) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// Pending returns how many armed timers have neither fired nor been stopped
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.active() {
			n++
		}
	}
	return n
}

// WaitForTimer blocks until the next AfterFunc call, or returns false after timeout
func (c *ManualClock) WaitForTimer(timeout time.Duration) bool {
	select {
	case <-c.armed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Advance moves the clock forward and fires every due timer in fire-time order
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*manualTimer
	for _, t := range c.timers {
		if !t.active() {
			continue
		}
		if !t.fireTime.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].fireTime.Before(due[j].fireTime) })
	for _, t := range due {
		t.fire()
	}
}

type manualTimer struct {
	mu       sync.Mutex
	fireTime time.Time
	f        func()
	done     bool
}

func (t *manualTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.done
	t.done = true
	return wasActive
}

func (t *manualTimer) fire() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	f := t.f
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

// AutoClock jumps virtual time forward by the requested duration whenever a
// timer is armed and fires it immediately, so loops run without real sleeps.
type AutoClock struct {
	mu      sync.Mutex
	now     time.Time
	elapsed time.Duration
	waits   []time.Duration
}

func NewAutoClock() *AutoClock {
	return &AutoClock{now: Epoch}
}

func (c *AutoClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *AutoClock) AfterFunc(d time.Duration, f func()) timing.Timer {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.elapsed += d
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	t := &autoTimer{}
	go func() {
		if t.claim() {
			f()
		}
	}()
	return t
}

// Elapsed returns the total virtual time spent waiting
func (c *AutoClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Waits returns every duration passed to AfterFunc, in order
func (c *AutoClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// Set moves the clock to an absolute time without recording a wait
func (c *AutoClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type autoTimer struct {
	mu   sync.Mutex
	done bool
}

func (t *autoTimer) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (t *autoTimer) Stop() bool {
	return t.claim()
}
