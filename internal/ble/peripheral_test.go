package ble

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/chaz8081/blekbd/internal/link"
)

// mockNotifier records notified values.
type mockNotifier struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (n *mockNotifier) Write(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, n.err
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	n.writes = append(n.writes, cp)
	return len(p), nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.writes)
}

type mockAdvertiser struct {
	starts, stops int
	err           error
}

func (a *mockAdvertiser) Start() error { a.starts++; return a.err }
func (a *mockAdvertiser) Stop() error  { a.stops++; return nil }

type eventSink struct {
	mu     sync.Mutex
	events []link.Event
}

func (s *eventSink) emit(ev link.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []link.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]link.Event(nil), s.events...)
}

type harness struct {
	p         *Peripheral
	sink      *eventSink
	input     *mockNotifier
	bootInput *mockNotifier
	battery   *mockNotifier
	adv       *mockAdvertiser
}

func newHarness() *harness {
	h := &harness{
		sink:      &eventSink{},
		input:     &mockNotifier{},
		bootInput: &mockNotifier{},
		battery:   &mockNotifier{},
		adv:       &mockAdvertiser{},
	}
	h.p = NewPeripheral("test-kbd", h.sink.emit, nil)
	h.p.input = h.input
	h.p.bootInput = h.bootInput
	h.p.battery = h.battery
	h.p.adv = h.adv
	return h
}

func noopDisconnect() error { return nil }

func TestConnectEmitsEvents(t *testing.T) {
	h := newHarness()
	h.p.handleConnect("AA:BB", noopDisconnect, true)
	h.p.handleConnect("AA:BB", nil, false)

	events := h.sink.all()
	if len(events) != 2 {
		t.Fatalf("events = %v, want 2", events)
	}
	if events[0].Kind != link.EventUp || events[0].Handle != "AA:BB" {
		t.Errorf("events[0] = %+v, want up AA:BB", events[0])
	}
	if events[1].Kind != link.EventDown || events[1].Reason != link.ReasonRemoteUserTerminated {
		t.Errorf("events[1] = %+v, want down with remote-terminated reason", events[1])
	}
}

func TestSendReportRequiresLinkUp(t *testing.T) {
	h := newHarness()
	payload := []byte{0, 0, 0x0B, 0, 0, 0, 0, 0}

	if err := h.p.SendReport("AA:BB", link.ModeReport, payload); !errors.Is(err, ErrLinkNotReady) {
		t.Errorf("SendReport() to unknown link error = %v, want ErrLinkNotReady", err)
	}

	h.p.handleConnect("AA:BB", noopDisconnect, true)
	if err := h.p.SendReport("AA:BB", link.ModeReport, payload); !errors.Is(err, ErrLinkNotReady) {
		t.Errorf("SendReport() before NotifyLinkUp error = %v, want ErrLinkNotReady", err)
	}

	if err := h.p.NotifyLinkUp("AA:BB"); err != nil {
		t.Fatalf("NotifyLinkUp() error = %v", err)
	}
	if err := h.p.SendReport("AA:BB", link.ModeReport, payload); err != nil {
		t.Fatalf("SendReport() error = %v", err)
	}
	if h.input.count() != 1 || !bytes.Equal(h.input.writes[0], payload) {
		t.Errorf("input writes = %v, want [%v]", h.input.writes, payload)
	}

	if err := h.p.NotifyLinkDown("AA:BB"); err != nil {
		t.Fatalf("NotifyLinkDown() error = %v", err)
	}
	if err := h.p.SendReport("AA:BB", link.ModeReport, payload); !errors.Is(err, ErrLinkNotReady) {
		t.Errorf("SendReport() after NotifyLinkDown error = %v, want ErrLinkNotReady", err)
	}
}

func TestNotifyLinkUpAfterDisconnectFails(t *testing.T) {
	h := newHarness()
	h.p.handleConnect("AA:BB", noopDisconnect, true)
	h.p.handleConnect("AA:BB", nil, false)
	if err := h.p.NotifyLinkUp("AA:BB"); err == nil {
		t.Error("NotifyLinkUp() for a vanished link should fail")
	}
}

func TestSendReportBootMode(t *testing.T) {
	h := newHarness()
	h.p.handleConnect("AA:BB", noopDisconnect, true)
	_ = h.p.NotifyLinkUp("AA:BB")

	if err := h.p.SendReport("AA:BB", link.ModeBoot, make([]byte, 8)); err != nil {
		t.Fatalf("SendReport() error = %v", err)
	}
	if h.bootInput.count() != 1 {
		t.Errorf("boot input writes = %d, want 1", h.bootInput.count())
	}
	if h.input.count() != 0 {
		t.Errorf("report input writes = %d, want 0", h.input.count())
	}
}

func TestSendReportSharedCharacteristicSentOnce(t *testing.T) {
	h := newHarness()
	for _, addr := range []link.Handle{"AA", "BB"} {
		h.p.handleConnect(addr, noopDisconnect, true)
		_ = h.p.NotifyLinkUp(addr)
	}
	press := []byte{0, 0, 0x0B, 0, 0, 0, 0, 0}
	release := make([]byte, 8)

	for _, payload := range [][]byte{press, release} {
		for _, addr := range []link.Handle{"AA", "BB"} {
			if err := h.p.SendReport(addr, link.ModeReport, payload); err != nil {
				t.Fatalf("SendReport(%s) error = %v", addr, err)
			}
		}
	}
	if h.input.count() != 2 {
		t.Errorf("input writes = %d, want 2 (press, release)", h.input.count())
	}
}

func TestSendReportRepeatedStateResent(t *testing.T) {
	h := newHarness()
	for _, addr := range []link.Handle{"AA", "BB"} {
		h.p.handleConnect(addr, noopDisconnect, true)
		_ = h.p.NotifyLinkUp(addr)
	}
	press := []byte{0, 0, 0x0B, 0, 0, 0, 0, 0}

	// Two broadcasts of the same state: the second is a re-send and must
	// reach the air again.
	for i := 0; i < 2; i++ {
		for _, addr := range []link.Handle{"AA", "BB"} {
			if err := h.p.SendReport(addr, link.ModeReport, press); err != nil {
				t.Fatalf("SendReport(%s) error = %v", addr, err)
			}
		}
	}
	if h.input.count() != 2 {
		t.Errorf("input writes = %d, want 2", h.input.count())
	}

	single := newHarness()
	single.p.handleConnect("AA", noopDisconnect, true)
	_ = single.p.NotifyLinkUp("AA")
	_ = single.p.SendReport("AA", link.ModeReport, press)
	_ = single.p.SendReport("AA", link.ModeReport, press)
	if single.input.count() != 2 {
		t.Errorf("single-link input writes = %d, want 2", single.input.count())
	}
}

func TestSendReportNotifyFailure(t *testing.T) {
	h := newHarness()
	h.input.err = errors.New("no subscribers")
	h.p.handleConnect("AA:BB", noopDisconnect, true)
	_ = h.p.NotifyLinkUp("AA:BB")

	if err := h.p.SendReport("AA:BB", link.ModeReport, make([]byte, 8)); err == nil {
		t.Fatal("expected notify error")
	}
	// A failed payload is retried on the next send.
	h.input.err = nil
	if err := h.p.SendReport("AA:BB", link.ModeReport, make([]byte, 8)); err != nil {
		t.Fatalf("SendReport() retry error = %v", err)
	}
	if h.input.count() != 1 {
		t.Errorf("input writes = %d, want 1", h.input.count())
	}
}

func TestProtocolModeSingleLink(t *testing.T) {
	h := newHarness()
	h.p.handleConnect("AA:BB", noopDisconnect, true)
	_ = h.p.NotifyLinkUp("AA:BB")

	h.p.handleProtocolMode([]byte{protocolModeBoot})

	events := h.sink.all()
	last := events[len(events)-1]
	if last.Kind != link.EventMode || last.Handle != "AA:BB" || last.Mode != link.ModeBoot {
		t.Errorf("last event = %+v, want boot mode for AA:BB", last)
	}
}

func TestProtocolModeAppliedToAllLinks(t *testing.T) {
	h := newHarness()
	for _, addr := range []link.Handle{"AA", "BB"} {
		h.p.handleConnect(addr, noopDisconnect, true)
		_ = h.p.NotifyLinkUp(addr)
	}
	before := len(h.sink.all())
	h.p.handleProtocolMode([]byte{protocolModeBoot})

	modes := h.sink.all()[before:]
	if len(modes) != 2 {
		t.Fatalf("mode events = %v, want 2", modes)
	}
	seen := map[link.Handle]bool{}
	for _, ev := range modes {
		if ev.Kind != link.EventMode || ev.Mode != link.ModeBoot {
			t.Errorf("event = %+v, want boot mode", ev)
		}
		seen[ev.Handle] = true
	}
	if !seen["AA"] || !seen["BB"] {
		t.Errorf("mode events did not cover both links: %v", modes)
	}
}

func TestProtocolModeIgnoresBadWrites(t *testing.T) {
	h := newHarness()
	h.p.handleConnect("AA:BB", noopDisconnect, true)
	_ = h.p.NotifyLinkUp("AA:BB")
	before := len(h.sink.all())

	h.p.handleProtocolMode(nil)
	h.p.handleProtocolMode([]byte{0x00, 0x01})
	h.p.handleProtocolMode([]byte{0x07})

	if got := len(h.sink.all()) - before; got != 0 {
		t.Errorf("bad writes produced %d events, want 0", got)
	}
}

func TestDisconnect(t *testing.T) {
	h := newHarness()
	called := 0
	h.p.handleConnect("AA:BB", func() error { called++; return nil }, true)

	if err := h.p.Disconnect("AA:BB", link.ReasonRemoteUserTerminated); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if called != 1 {
		t.Errorf("device disconnect calls = %d, want 1", called)
	}
	if err := h.p.Disconnect("CC:DD", link.ReasonRemoteUserTerminated); err == nil {
		t.Error("Disconnect() of unknown link should fail")
	}
}

func TestAdvertising(t *testing.T) {
	h := newHarness()
	if err := h.p.StartAdvertising(); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	if err := h.p.StopAdvertising(); err != nil {
		t.Fatalf("StopAdvertising() error = %v", err)
	}
	if h.adv.starts != 1 || h.adv.stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", h.adv.starts, h.adv.stops)
	}

	unconfigured := NewPeripheral("x", nil, nil)
	if err := unconfigured.StartAdvertising(); err == nil {
		t.Error("StartAdvertising() before Start should fail")
	}
}

func TestSetBatteryLevelClamps(t *testing.T) {
	h := newHarness()
	if err := h.p.SetBatteryLevel(150); err != nil {
		t.Fatalf("SetBatteryLevel() error = %v", err)
	}
	if got := h.battery.writes[0][0]; got != 100 {
		t.Errorf("battery level = %d, want 100", got)
	}
}
