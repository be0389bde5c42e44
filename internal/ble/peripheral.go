package ble

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/blekbd/internal/keyboard"
	"github.com/chaz8081/blekbd/internal/link"
)

// ErrLinkNotReady is returned when a report targets a link the HID service
// has not been told about, or one that has already gone.
var ErrLinkNotReady = errors.New("ble: link not ready")

// Peripheral is the HID-over-GATT server. Connection callbacks arrive on
// the stack's goroutine and are forwarded through emit without touching
// any core state.
type Peripheral struct {
	name string
	emit func(link.Event)
	log  *slog.Logger

	adapter *bluetooth.Adapter
	adv     Advertiser

	inputChar     bluetooth.Characteristic
	bootInputChar bluetooth.Characteristic
	batteryChar   bluetooth.Characteristic

	input     Notifier
	bootInput Notifier
	battery   Notifier

	mu    sync.Mutex
	links map[link.Handle]*peer
	last  map[Notifier]*notified
}

type peer struct {
	disconnect func() error
	ready      bool
}

// notified is the last payload written to a characteristic and the links
// that payload already reached. A notify goes to every subscriber, so a
// broadcast to several links on one characteristic is written once.
type notified struct {
	payload []byte
	reached map[link.Handle]bool
}

// NewPeripheral returns a Peripheral that reports connection changes
// through onEvent. Call Start to register services.
func NewPeripheral(name string, onEvent func(link.Event), logger *slog.Logger) *Peripheral {
	if logger == nil {
		logger = slog.Default()
	}
	return &Peripheral{
		name:  name,
		emit:  onEvent,
		log:   logger,
		links: make(map[link.Handle]*peer),
		last:  make(map[Notifier]*notified),
	}
}

// Start enables the default adapter, registers the HID and Battery
// services and configures (but does not start) advertising.
func (p *Peripheral) Start() error {
	p.adapter = bluetooth.DefaultAdapter
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		dev := device
		p.handleConnect(link.Handle(dev.Address.String()), dev.Disconnect, connected)
	})

	if err := p.adapter.AddService(p.hidService()); err != nil {
		return fmt.Errorf("ble: add HID service: %w", err)
	}
	if err := p.adapter.AddService(p.batteryService()); err != nil {
		return fmt.Errorf("ble: add battery service: %w", err)
	}
	p.input = &p.inputChar
	p.bootInput = &p.bootInputChar
	p.battery = &p.batteryChar

	adv := p.adapter.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName: p.name,
		ServiceUUIDs: []bluetooth.UUID{
			bluetooth.New16BitUUID(uuidHIDService),
			bluetooth.New16BitUUID(uuidBatteryService),
		},
	})
	if err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	p.adv = adv

	p.log.Info("[BLE] HID peripheral registered", "name", p.name)
	return nil
}

func (p *Peripheral) hidService() *bluetooth.Service {
	return &bluetooth.Service{
		UUID: bluetooth.New16BitUUID(uuidHIDService),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  bluetooth.New16BitUUID(uuidHIDInformation),
				Value: hidInformation,
				Flags: bluetooth.CharacteristicReadPermission,
			},
			{
				UUID:  bluetooth.New16BitUUID(uuidReportMap),
				Value: keyboard.ReportMap,
				Flags: bluetooth.CharacteristicReadPermission,
			},
			{
				Handle: &p.inputChar,
				UUID:   bluetooth.New16BitUUID(uuidReport),
				Value:  make([]byte, keyboard.ReportSize),
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:  bluetooth.New16BitUUID(uuidReport),
				Value: []byte{0},
				Flags: bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					p.handleLEDs(value)
				},
			},
			{
				UUID:  bluetooth.New16BitUUID(uuidProtocolMode),
				Value: []byte{protocolModeReport},
				Flags: bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					p.handleProtocolMode(value)
				},
			},
			{
				Handle: &p.bootInputChar,
				UUID:   bluetooth.New16BitUUID(uuidBootKeyboardInput),
				Value:  make([]byte, keyboard.ReportSize),
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:  bluetooth.New16BitUUID(uuidBootKeyboardOutput),
				Value: []byte{0},
				Flags: bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					p.handleLEDs(value)
				},
			},
			{
				UUID:  bluetooth.New16BitUUID(uuidHIDControlPoint),
				Flags: bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					p.log.Debug("[BLE] HID control point", "value", value)
				},
			},
		},
	}
}

func (p *Peripheral) batteryService() *bluetooth.Service {
	return &bluetooth.Service{
		UUID: bluetooth.New16BitUUID(uuidBatteryService),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &p.batteryChar,
				UUID:   bluetooth.New16BitUUID(uuidBatteryLevel),
				Value:  []byte{100},
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
		},
	}
}

// handleConnect runs on the stack goroutine.
func (p *Peripheral) handleConnect(h link.Handle, disconnect func() error, connected bool) {
	p.mu.Lock()
	if connected {
		p.links[h] = &peer{disconnect: disconnect}
	} else {
		delete(p.links, h)
	}
	p.mu.Unlock()

	if connected {
		p.send(link.Event{Kind: link.EventUp, Handle: h})
		return
	}
	// tinygo does not surface the HCI reason; peer-initiated is the only
	// case that reaches the core outside teardown.
	p.send(link.Event{Kind: link.EventDown, Handle: h, Reason: link.ReasonRemoteUserTerminated})
}

// handleProtocolMode applies a Protocol Mode write. The write carries no
// usable connection identity, so it goes to the only ready link, or to
// every ready link when there are several.
func (p *Peripheral) handleProtocolMode(value []byte) {
	if len(value) != 1 {
		p.log.Warn("[BLE] malformed protocol mode write", "len", len(value))
		return
	}
	var mode link.Mode
	switch value[0] {
	case protocolModeBoot:
		mode = link.ModeBoot
	case protocolModeReport:
		mode = link.ModeReport
	default:
		p.log.Warn("[BLE] unknown protocol mode", "value", value[0])
		return
	}

	targets := p.readyHandles()
	if len(targets) == 0 {
		p.log.Debug("[BLE] protocol mode write with no ready link", "mode", mode)
		return
	}
	if len(targets) > 1 {
		p.log.Debug("[BLE] protocol mode applied to all links", "mode", mode, "links", len(targets))
	}
	for _, h := range targets {
		p.send(link.Event{Kind: link.EventMode, Handle: h, Mode: mode})
	}
}

func (p *Peripheral) handleLEDs(value []byte) {
	if len(value) == 0 {
		return
	}
	p.log.Debug("[BLE] output report",
		"leds", value[0],
		"caps_lock", value[0]&keyboard.LEDCapsLock != 0)
}

func (p *Peripheral) send(ev link.Event) {
	if p.emit != nil {
		p.emit(ev)
	}
}

func (p *Peripheral) readyHandles() []link.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hs []link.Handle
	for h, pr := range p.links {
		if pr.ready {
			hs = append(hs, h)
		}
	}
	return hs
}

// SendReport notifies payload on the report characteristic for mode.
// A payload equal to the last notify is skipped once per other link, since
// that notify already reached it. A second send to the same link is always
// written, so repeating the current state recovers a lost report.
func (p *Peripheral) SendReport(h link.Handle, mode link.Mode, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.links[h]
	if !ok || !pr.ready {
		return fmt.Errorf("%w: %s", ErrLinkNotReady, h)
	}
	n := p.input
	if mode == link.ModeBoot {
		n = p.bootInput
	}
	if n == nil {
		return fmt.Errorf("ble: send report: service not registered")
	}
	if last, ok := p.last[n]; ok && !last.reached[h] && bytes.Equal(last.payload, payload) {
		last.reached[h] = true
		return nil
	}
	if _, err := n.Write(payload); err != nil {
		return fmt.Errorf("ble: notify report: %w", err)
	}
	p.last[n] = &notified{
		payload: append([]byte(nil), payload...),
		reached: map[link.Handle]bool{h: true},
	}
	return nil
}

// NotifyLinkUp marks h ready for reports.
func (p *Peripheral) NotifyLinkUp(h link.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.links[h]
	if !ok {
		return fmt.Errorf("%w: %s gone before HID attach", ErrLinkNotReady, h)
	}
	pr.ready = true
	// A new subscriber must see the next report even if it repeats.
	clear(p.last)
	return nil
}

// NotifyLinkDown stops reports to h.
func (p *Peripheral) NotifyLinkDown(h link.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.links[h]; ok {
		pr.ready = false
	}
	return nil
}

// Disconnect terminates h. The reason cannot be passed through tinygo and
// is only logged.
func (p *Peripheral) Disconnect(h link.Handle, reason uint8) error {
	p.mu.Lock()
	pr, ok := p.links[h]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: disconnect %s: unknown link", h)
	}
	p.log.Debug("[BLE] disconnecting", "link", h, "reason", fmt.Sprintf("0x%02x", reason))
	if err := pr.disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", h, err)
	}
	return nil
}

func (p *Peripheral) StartAdvertising() error {
	if p.adv == nil {
		return fmt.Errorf("ble: advertising not configured")
	}
	return p.adv.Start()
}

func (p *Peripheral) StopAdvertising() error {
	if p.adv == nil {
		return nil
	}
	return p.adv.Stop()
}

// SetBatteryLevel publishes a new battery percentage, clamped to 100.
func (p *Peripheral) SetBatteryLevel(pct uint8) error {
	if pct > 100 {
		pct = 100
	}
	if p.battery == nil {
		return fmt.Errorf("ble: battery service not registered")
	}
	if _, err := p.battery.Write([]byte{pct}); err != nil {
		return fmt.Errorf("ble: notify battery level: %w", err)
	}
	return nil
}

// Compile-time check that Peripheral implements link.Stack.
var _ link.Stack = (*Peripheral)(nil)
