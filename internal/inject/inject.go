// Package inject replays keyboard reports on the local machine instead of
// sending them over the radio. Reports are diffed and each changed usage is
// pressed or released through a KeySink: robotgo for the desktop session,
// or a uinput virtual keyboard for headless Linux.
package inject

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/chaz8081/blekbd/internal/keyboard"
	"github.com/chaz8081/blekbd/internal/link"
)

// DesktopHandle is the single virtual link a DesktopStack reports.
const DesktopHandle link.Handle = "desktop"

// KeySink presses and releases host keys by HID usage ID. Usages the sink
// cannot represent are skipped without error.
type KeySink interface {
	KeyDown(usage uint8) error
	KeyUp(usage uint8) error
}

// DesktopStack implements link.Stack by diffing successive reports and
// pressing or releasing the corresponding host keys.
type DesktopStack struct {
	emit func(link.Event)
	log  *slog.Logger
	keys KeySink

	mu        sync.Mutex
	connected bool
	ready     bool
	prev      [keyboard.ReportSize]byte
}

// NewDesktopStack returns a stack that types into the desktop session with
// robotgo and reports a "desktop" link as soon as advertising starts.
func NewDesktopStack(onEvent func(link.Event), logger *slog.Logger) *DesktopStack {
	return NewStack(newRobotgoSink(), onEvent, logger)
}

// NewStack returns a stack that replays reports into keys.
func NewStack(keys KeySink, onEvent func(link.Event), logger *slog.Logger) *DesktopStack {
	if logger == nil {
		logger = slog.Default()
	}
	return &DesktopStack{emit: onEvent, log: logger, keys: keys}
}

// Close releases held keys and closes the sink if it holds a device.
func (d *DesktopStack) Close() error {
	d.mu.Lock()
	err := d.apply(make([]byte, keyboard.ReportSize))
	d.mu.Unlock()
	if c, ok := d.keys.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (d *DesktopStack) StartAdvertising() error {
	d.mu.Lock()
	already := d.connected
	d.connected = true
	d.mu.Unlock()
	if already {
		return nil
	}
	d.log.Info("[INJECT] desktop link available")
	// The virtual central connects immediately, but not from inside the
	// caller's stack: events are delivered like radio callbacks.
	go d.send(link.Event{Kind: link.EventUp, Handle: DesktopHandle})
	return nil
}

func (d *DesktopStack) StopAdvertising() error { return nil }

func (d *DesktopStack) NotifyLinkUp(h link.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h != DesktopHandle || !d.connected {
		return fmt.Errorf("inject: unknown link %s", h)
	}
	d.ready = true
	return nil
}

func (d *DesktopStack) NotifyLinkDown(h link.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = false
	return nil
}

// Disconnect releases any keys still held on the host and drops the link.
func (d *DesktopStack) Disconnect(h link.Handle, reason uint8) error {
	if h != DesktopHandle {
		return fmt.Errorf("inject: unknown link %s", h)
	}
	d.mu.Lock()
	err := d.apply(make([]byte, keyboard.ReportSize))
	d.connected = false
	d.ready = false
	d.mu.Unlock()

	go d.send(link.Event{Kind: link.EventDown, Handle: h, Reason: reason})
	return err
}

// SendReport applies the difference between payload and the previous
// report to the host keyboard. The boot and report layouts are identical.
func (d *DesktopStack) SendReport(h link.Handle, _ link.Mode, payload []byte) error {
	if len(payload) != keyboard.ReportSize {
		return fmt.Errorf("inject: report length %d, want %d", len(payload), keyboard.ReportSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if h != DesktopHandle || !d.ready {
		return fmt.Errorf("inject: link %s not ready", h)
	}
	return d.apply(payload)
}

// apply requires d.mu. Releases are replayed before presses.
func (d *DesktopStack) apply(next []byte) error {
	ups, downs := diffReports(d.prev[:], next)
	var firstErr error
	for _, code := range ups {
		if err := d.keys.KeyUp(code); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("inject: release 0x%02x: %w", code, err)
		}
	}
	for _, code := range downs {
		if err := d.keys.KeyDown(code); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("inject: press 0x%02x: %w", code, err)
		}
	}
	copy(d.prev[:], next)
	if len(ups)+len(downs) > 0 {
		d.log.Debug("[INJECT] report applied", "up", ups, "down", downs)
	}
	return firstErr
}

func (d *DesktopStack) send(ev link.Event) {
	if d.emit != nil {
		d.emit(ev)
	}
}

// diffReports returns the usages released and pressed between two 8-byte
// reports. Modifier bits are expanded to their 0xE0-0xE7 usages.
func diffReports(prev, next []byte) (ups, downs []uint8) {
	for bit := 0; bit < 8; bit++ {
		mask := byte(1) << bit
		code := keyboard.KeyLeftCtrl + uint8(bit)
		was, is := prev[0]&mask != 0, next[0]&mask != 0
		switch {
		case is && !was:
			downs = append(downs, code)
		case was && !is:
			ups = append(ups, code)
		}
	}

	for _, code := range prev[2:] {
		if code != keyboard.KeyNone && !containsKey(next[2:], code) {
			ups = append(ups, code)
		}
	}
	for _, code := range next[2:] {
		if code != keyboard.KeyNone && !containsKey(prev[2:], code) {
			downs = append(downs, code)
		}
	}
	return ups, downs
}

func containsKey(keys []byte, code byte) bool {
	for _, k := range keys {
		if k == code {
			return true
		}
	}
	return false
}

// Compile-time check that DesktopStack implements link.Stack.
var _ link.Stack = (*DesktopStack)(nil)
