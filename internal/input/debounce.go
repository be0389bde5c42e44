package input

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the quiet period between the last edge and the sample.
const DefaultDebounce = 10 * time.Millisecond

// LevelSource reports the current electrical state of a button.
// Level returns true while button pin is pressed.
type LevelSource interface {
	Level(pin int) bool
}

// Debouncer coalesces bursts of edge signals into a single delayed sample.
type Debouncer struct {
	src    LevelSource
	queue  *Queue
	window time.Duration

	pending atomic.Uint32

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer that samples src window after the last
// Signal and pushes the result onto q.
func NewDebouncer(src LevelSource, q *Queue, window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{src: src, queue: q, window: window}
}

// Signal records that the given pins saw an edge and (re)arms the sample
// timer. It does no I/O and may be called from any goroutine, including
// backend edge callbacks. Repeated calls inside the window collapse into
// one sample.
func (d *Debouncer) Signal(pins uint32) {
	if pins == 0 {
		return
	}
	d.pending.Or(pins)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.sample)
		return
	}
	d.timer.Reset(d.window)
}

// sample runs on the runtime timer goroutine. It reads the level as it is
// now, not the level that caused the edge. Overflow is counted by the queue
// and otherwise silent.
func (d *Debouncer) sample() {
	pins := d.pending.Swap(0)
	for pins != 0 {
		pin := bits.TrailingZeros32(pins)
		pins &^= 1 << pin

		d.queue.TryPush(Edge{Down: d.src.Level(pin), Pins: 1 << pin})
	}
}

// Stop cancels any pending sample. Signals after Stop are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending.Store(0)
}
