package power

import (
	"sync"
	"testing"
	"time"
)

// fakeClock fires AfterFunc callbacks only when Advance passes their
// deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due callbacks synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type fireCounter struct {
	mu sync.Mutex
	n  int
}

func (f *fireCounter) fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
}

func (f *fireCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func TestIdleTimerLifecycle(t *testing.T) {
	clock := newFakeClock()
	var fc fireCounter
	timer := NewIdleTimer(30*time.Second, fc.fire, clock, nil)

	if timer.State() != Disarmed {
		t.Fatalf("initial state = %v, want disarmed", timer.State())
	}

	timer.Start()
	if timer.State() != Armed {
		t.Fatalf("state after Start = %v, want armed", timer.State())
	}

	clock.Advance(29 * time.Second)
	if fc.count() != 0 {
		t.Fatal("fired before window elapsed")
	}

	clock.Advance(time.Second)
	if fc.count() != 1 {
		t.Fatalf("fire count = %d, want 1", fc.count())
	}
	if timer.State() != Firing {
		t.Errorf("state after expiry = %v, want firing", timer.State())
	}

	if prev := timer.MarkPoweringDown(); prev != Firing {
		t.Errorf("MarkPoweringDown() prev = %v, want firing", prev)
	}
	timer.Start()
	timer.Reset()
	if timer.State() != PoweringDown {
		t.Errorf("state after Start/Reset in terminal state = %v, want powering-down", timer.State())
	}
}

func TestIdleTimerResetRestartsFullWindow(t *testing.T) {
	clock := newFakeClock()
	var fc fireCounter
	timer := NewIdleTimer(30*time.Second, fc.fire, clock, nil)
	timer.Start()

	clock.Advance(25 * time.Second)
	timer.Reset()
	want := clock.Now().Add(30 * time.Second)
	if !timer.Deadline().Equal(want) {
		t.Errorf("Deadline() = %v, want %v (full window from reset)", timer.Deadline(), want)
	}

	clock.Advance(25 * time.Second)
	if fc.count() != 0 {
		t.Fatal("old deadline still fired after Reset")
	}
	clock.Advance(5 * time.Second)
	if fc.count() != 1 {
		t.Errorf("fire count = %d, want 1", fc.count())
	}
}

func TestIdleTimerRapidResetsEquivalentToOne(t *testing.T) {
	clock := newFakeClock()
	var fc fireCounter
	timer := NewIdleTimer(10*time.Second, fc.fire, clock, nil)
	timer.Start()

	clock.Advance(3 * time.Second)
	timer.Reset()
	clock.Advance(time.Millisecond)
	timer.Reset()
	want := clock.Now().Add(10 * time.Second)
	if !timer.Deadline().Equal(want) {
		t.Errorf("Deadline() = %v, want %v", timer.Deadline(), want)
	}

	clock.Advance(10 * time.Second)
	if fc.count() != 1 {
		t.Errorf("fire count = %d, want exactly 1", fc.count())
	}
}

func TestIdleTimerStopIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	var fc fireCounter
	timer := NewIdleTimer(time.Second, fc.fire, clock, nil)
	timer.Start()
	timer.Stop()
	timer.Stop()

	if timer.State() != Disarmed {
		t.Errorf("state = %v, want disarmed", timer.State())
	}
	if !timer.Deadline().IsZero() {
		t.Errorf("Deadline() = %v, want zero", timer.Deadline())
	}
	clock.Advance(time.Hour)
	if fc.count() != 0 {
		t.Error("stopped timer fired")
	}
}

func TestIdleTimerStaleExpiryDropped(t *testing.T) {
	clock := newFakeClock()
	var fc fireCounter
	timer := NewIdleTimer(time.Second, fc.fire, clock, nil)
	timer.Start()

	// Simulate an expiry callback that was already running when Reset
	// superseded it: the generation it captured is now stale.
	stale := timer.gen
	timer.Reset()
	timer.expire(stale)

	if fc.count() != 0 {
		t.Error("stale expiry fired")
	}
	if timer.State() != Armed {
		t.Errorf("state = %v, want armed", timer.State())
	}
}

func TestIdleTimerResetAfterFiringReportsRace(t *testing.T) {
	clock := newFakeClock()
	var fc fireCounter
	timer := NewIdleTimer(time.Second, fc.fire, clock, nil)
	timer.Start()
	clock.Advance(time.Second)

	// Activity lands between the signal and the worker picking it up.
	timer.Reset()
	if prev := timer.MarkPoweringDown(); prev != Armed {
		t.Errorf("MarkPoweringDown() prev = %v, want armed (reset raced expiry)", prev)
	}
}

func TestIdleTimerRealClock(t *testing.T) {
	fired := make(chan struct{}, 1)
	timer := NewIdleTimer(20*time.Millisecond, func() { fired <- struct{}{} }, nil, nil)
	timer.Start()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("real-clock timer never fired")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Disarmed:     "disarmed",
		Armed:        "armed",
		Firing:       "firing",
		PoweringDown: "powering-down",
		State(42):    "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
