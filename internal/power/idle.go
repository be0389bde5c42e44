// Package power implements the idle/sleep controller: an inactivity timer
// that, on expiry, hands off to a teardown sequence ending in system
// power-off.
package power

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleTimeout is the inactivity window before power-down.
const DefaultIdleTimeout = 30 * time.Second

// State is the idle controller state.
type State int

const (
	Disarmed State = iota
	Armed
	Firing
	// PoweringDown is terminal for the boot session.
	PoweringDown
)

func (s State) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	case PoweringDown:
		return "powering-down"
	default:
		return "unknown"
	}
}

// Timer is the subset of *time.Timer the controller uses.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive expiry by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// IdleTimer arms a one-shot timer that calls fire when no Reset arrives
// for a full window. fire runs on the timer goroutine and must only
// signal; the heavy work belongs to whoever receives the signal.
type IdleTimer struct {
	window time.Duration
	fire   func()
	clock  Clock
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	deadline time.Time
	timer    Timer
	gen      uint64
}

// NewIdleTimer returns a Disarmed timer. A nil clock uses the wall clock.
func NewIdleTimer(window time.Duration, fire func(), clock Clock, logger *slog.Logger) *IdleTimer {
	if window <= 0 {
		window = DefaultIdleTimeout
	}
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleTimer{window: window, fire: fire, clock: clock, log: logger}
}

// Start arms the timer with the full window.
func (t *IdleTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == PoweringDown {
		return
	}
	t.arm()
	t.log.Debug("[IDLE] timer started", "deadline", t.deadline)
}

// Reset stops the timer and starts it again, so the full window counts
// from now. It is not an extension of the old deadline.
func (t *IdleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == PoweringDown {
		return
	}
	t.disarm()
	t.arm()
}

// Stop disarms the timer. Calling it again is a no-op.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarm()
	if t.state == Armed {
		t.state = Disarmed
	}
	t.deadline = time.Time{}
}

// MarkPoweringDown makes the state terminal and returns the state it
// replaced. A value other than Firing means activity arrived after the
// expiry was signalled.
func (t *IdleTimer) MarkPoweringDown() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	t.disarm()
	t.state = PoweringDown
	return prev
}

// State returns the current state.
func (t *IdleTimer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Deadline returns when the armed timer will expire, or the zero time.
func (t *IdleTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Window returns the configured inactivity window.
func (t *IdleTimer) Window() time.Duration { return t.window }

// arm requires t.mu.
func (t *IdleTimer) arm() {
	t.gen++
	gen := t.gen
	t.deadline = t.clock.Now().Add(t.window)
	t.timer = t.clock.AfterFunc(t.window, func() { t.expire(gen) })
	t.state = Armed
}

// disarm requires t.mu. Bumping gen turns an expiry that is already in
// flight into a no-op when it has not yet taken the lock.
func (t *IdleTimer) disarm() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *IdleTimer) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state != Armed {
		t.mu.Unlock()
		t.log.Debug("[IDLE] stale expiry dropped")
		return
	}
	t.state = Firing
	t.deadline = time.Time{}
	t.mu.Unlock()

	t.log.Info("[IDLE] inactivity window elapsed", "window", t.window)
	t.fire()
}
