// Package app runs the dispatch loop: the single goroutine that owns the
// keyboard state, the connection registry and the idle timer. Everything
// else (input backends, the radio stack, the idle timer callback) talks to
// it through channels.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chaz8081/blekbd/internal/input"
	"github.com/chaz8081/blekbd/internal/keyboard"
	"github.com/chaz8081/blekbd/internal/link"
	"github.com/chaz8081/blekbd/internal/power"
)

// DefaultEventBuffer bounds the link events waiting for the dispatcher.
const DefaultEventBuffer = 16

// Options configures a Dispatcher.
type Options struct {
	// Keys[i] is the usage code sent for button i (bit i of Edge.Pins).
	Keys []uint8

	IdleTimeout time.Duration
	// Clock drives the idle timer. nil uses the wall clock.
	Clock power.Clock

	// WakeCause and WakeKey control the single synthetic tap sent on the
	// first link after a button wake. A zero WakeKey disables it.
	WakeCause power.WakeCause
	WakeKey   uint8

	EventBuffer int
	Logger      *slog.Logger
}

// Dispatcher serializes input edges, link events and idle expiry.
type Dispatcher struct {
	queue *input.Queue
	links *link.Manager
	seq   *power.Sequence
	idle  *power.IdleTimer
	log   *slog.Logger

	keys      []uint8
	kb        keyboard.State
	report    []byte // reused serialization buffer
	levels    uint32
	linked    bool
	wakeCause power.WakeCause
	wakeKey   uint8

	events  chan link.Event
	expired chan struct{}
	done    chan struct{}
}

// New returns a Dispatcher. seq.Links should be links so that idle
// expiry tears down the same registry the dispatcher fills.
func New(q *input.Queue, links *link.Manager, seq *power.Sequence, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = DefaultEventBuffer
	}
	d := &Dispatcher{
		queue:     q,
		links:     links,
		seq:       seq,
		log:       logger,
		keys:      opts.Keys,
		wakeCause: opts.WakeCause,
		wakeKey:   opts.WakeKey,
		events:    make(chan link.Event, buf),
		expired:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	d.idle = power.NewIdleTimer(opts.IdleTimeout, d.signalIdle, opts.Clock, logger)
	return d
}

// PostLinkEvent hands a stack callback to the dispatcher. It may be called
// from any goroutine and blocks only while the event buffer is full. After
// Run has returned it drops the event.
func (d *Dispatcher) PostLinkEvent(ev link.Event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// signalIdle runs on the timer goroutine and only signals.
func (d *Dispatcher) signalIdle() {
	select {
	case d.expired <- struct{}{}:
	default:
	}
}

// Run starts advertising and the idle timer, then processes events until
// ctx is cancelled or the idle timer expires. After expiry it returns the
// power sequence's result, normally power.ErrPoweredOff.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	d.links.StartAdvertising()
	d.idle.Start()
	d.log.Info("[APP] dispatcher running", "buttons", len(d.keys), "idle", d.idle.Window())

	for {
		select {
		case <-ctx.Done():
			d.idle.Stop()
			d.links.Teardown()
			return ctx.Err()

		case e := <-d.queue.C():
			d.handleEdge(e)

		case ev := <-d.events:
			d.handleLinkEvent(ev)

		case <-d.expired:
			return d.powerDown()
		}
	}
}

func (d *Dispatcher) powerDown() error {
	if prev := d.idle.MarkPoweringDown(); prev != power.Firing {
		d.log.Warn("[IDLE] activity raced the expiry signal, powering down anyway", "state", prev)
	}
	if d.seq == nil {
		return power.ErrPoweredOff
	}
	return d.seq.Run()
}

func (d *Dispatcher) handleEdge(e input.Edge) {
	d.idle.Reset()

	for pin := range d.keys {
		bit := uint32(1) << pin
		if e.Pins&bit == 0 {
			continue
		}
		if (d.levels&bit != 0) == e.Down {
			d.log.Debug("[APP] edge matches current level, ignored", "button", pin, "down", e.Down)
			continue
		}
		if e.Down {
			d.levels |= bit
		} else {
			d.levels &^= bit
		}

		if !d.linked {
			d.log.Debug("[APP] no link yet, key dropped", "button", pin, "down", e.Down)
			continue
		}
		d.applyKey(d.keys[pin], e.Down)
	}
	if extra := e.Pins >> uint(len(d.keys)); extra != 0 {
		d.log.Debug("[APP] edge on unmapped pins", "pins", e.Pins)
	}
}

func (d *Dispatcher) applyKey(code uint8, down bool) {
	if down {
		if err := d.kb.Press(code); err != nil {
			d.log.Warn("[APP] key press rejected", "key", keyboard.Name(code), "error", err)
			return
		}
	} else if !d.kb.Release(code) {
		d.log.Debug("[APP] release of key not held", "key", keyboard.Name(code))
	}
	d.sendReport()
}

func (d *Dispatcher) sendReport() {
	d.report = d.kb.AppendReport(d.report[:0])
	if err := d.links.Broadcast(d.report); err != nil {
		var te *link.TransportError
		if errors.As(err, &te) {
			d.log.Warn("[APP] report send failed", "link", te.Handle, "mode", te.Mode, "error", err)
			return
		}
		d.log.Warn("[APP] report send failed", "error", err)
	}
}

func (d *Dispatcher) handleLinkEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventUp:
		if err := d.links.Connected(ev.Handle); err != nil {
			return
		}
		if !d.linked {
			d.linked = true
			d.replayWake()
		}
	case link.EventDown:
		d.links.Disconnected(ev.Handle, ev.Reason)
	case link.EventMode:
		d.links.ModeChanged(ev.Handle, ev.Mode)
	default:
		d.log.Warn("[APP] unknown link event", "kind", ev.Kind)
	}
}

// replayWake sends one tap of the wake key so the host sees the keystroke
// that woke the device. It runs at most once per boot.
func (d *Dispatcher) replayWake() {
	if d.wakeCause != power.WakeButton || d.wakeKey == keyboard.KeyNone {
		return
	}
	d.log.Info("[APP] replaying wake key", "key", keyboard.Name(d.wakeKey))
	if err := d.kb.Press(d.wakeKey); err != nil {
		d.log.Warn("[APP] wake key press rejected", "error", err)
		return
	}
	d.sendReport()
	d.kb.Release(d.wakeKey)
	d.sendReport()
}

// Linked reports whether a link has been established this boot. It must
// only be called from the dispatch goroutine or after Run returns.
func (d *Dispatcher) Linked() bool { return d.linked }

// IdleState exposes the idle controller state for diagnostics.
func (d *Dispatcher) IdleState() power.State { return d.idle.State() }
