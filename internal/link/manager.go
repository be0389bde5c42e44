package link

import (
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrTearingDown is returned by Connected once Teardown has run.
var ErrTearingDown = errors.New("link: tearing down")

// Manager applies connection lifecycle and advertising policy on top of a
// Registry:
//   - advertise while at least one slot is free;
//   - restart advertising after a peer disconnects;
//   - ignore disconnects the device caused itself during teardown.
type Manager struct {
	reg   *Registry
	stack Stack
	log   *slog.Logger

	advertising atomic.Bool

	// internalDisconnect is set by Teardown and never cleared: teardown is
	// followed by power-off, so every later disconnect is self-initiated.
	internalDisconnect bool
}

// NewManager returns a Manager over reg driving stack.
func NewManager(reg *Registry, stack Stack, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{reg: reg, stack: stack, log: logger}
}

// StartAdvertising asks the stack to advertise. Failure is logged; the
// next disconnect will try again.
func (m *Manager) StartAdvertising() {
	if err := m.stack.StartAdvertising(); err != nil {
		m.log.Warn("[BLE] advertising failed to start", "error", err)
		return
	}
	m.advertising.Store(true)
	m.log.Info("[BLE] advertising started")
}

// Connected registers a new link. The slot is claimed before the HID
// service attaches, so a peer is never reportable without being tracked.
// A peer that cannot be tracked is disconnected. Advertising continues only
// while another slot is free.
func (m *Manager) Connected(h Handle) error {
	if m.internalDisconnect {
		m.log.Info("[BLE] connection during teardown rejected", "link", h)
		m.reject(h)
		return ErrTearingDown
	}
	slot, err := m.reg.Assign(h)
	if err != nil {
		m.log.Warn("[BLE] cannot track connection", "link", h, "error", err)
		m.reject(h)
		return err
	}
	if err := m.stack.NotifyLinkUp(h); err != nil {
		m.log.Warn("[BLE] HID service rejected connection", "link", h, "error", err)
		m.reg.Release(h)
		m.reject(h)
		return err
	}
	m.log.Info("[BLE] connected", "link", h, "slot", slot, "active", m.reg.Active())

	if m.reg.HasFree() {
		m.StartAdvertising()
		return nil
	}
	m.stopAdvertising()
	return nil
}

// reject terminates a peer that holds no slot.
func (m *Manager) reject(h Handle) {
	if err := m.stack.Disconnect(h, ReasonRemoteUserTerminated); err != nil {
		m.log.Warn("[BLE] failed to disconnect rejected link", "link", h, "error", err)
	}
}

func (m *Manager) stopAdvertising() {
	if !m.advertising.Load() {
		return
	}
	if err := m.stack.StopAdvertising(); err != nil {
		m.log.Warn("[BLE] stop advertising failed", "error", err)
	}
	m.advertising.Store(false)
}

// Disconnected handles a link going down. Peer-initiated disconnects free
// the slot and always restart advertising; disconnects following Teardown
// are ignored. A rejected peer going away only re-advertises if a slot is
// free and advertising had stopped.
func (m *Manager) Disconnected(h Handle, reason uint8) {
	if m.internalDisconnect {
		m.log.Debug("[BLE] disconnect during teardown ignored", "link", h, "reason", reason)
		return
	}
	if _, tracked := m.reg.Lookup(h); !tracked {
		m.log.Debug("[BLE] untracked link down", "link", h, "reason", reason)
		if m.reg.HasFree() && !m.advertising.Load() {
			m.StartAdvertising()
		}
		return
	}
	m.log.Info("[BLE] disconnected", "link", h, "reason", reason)

	if err := m.stack.NotifyLinkDown(h); err != nil {
		m.log.Warn("[BLE] failed to notify HID service about disconnect", "link", h, "error", err)
	}
	m.reg.Release(h)
	m.StartAdvertising()
}

// ModeChanged records the protocol mode a peer selected.
func (m *Manager) ModeChanged(h Handle, mode Mode) {
	if !m.reg.SetMode(h, mode) {
		m.log.Warn("[BLE] protocol mode for unknown link", "link", h, "mode", mode)
		return
	}
	m.log.Info("[BLE] protocol mode changed", "link", h, "mode", mode)
}

// Broadcast sends payload to every active link using the link's mode.
// Failures are returned as joined *TransportError values; every link is
// attempted.
func (m *Manager) Broadcast(payload []byte) error {
	return m.reg.ForEachActive(func(s Slot) error {
		if err := m.stack.SendReport(s.Handle, s.Mode, payload); err != nil {
			return &TransportError{Handle: s.Handle, Mode: s.Mode, Err: err}
		}
		return nil
	})
}

// Teardown disconnects every link and stops advertising ahead of power-off.
// It is best-effort: failures are logged and the walk continues.
func (m *Manager) Teardown() {
	m.internalDisconnect = true

	for i := range m.reg.slots {
		s := m.reg.slots[i]
		if s.Free() {
			continue
		}
		if err := m.stack.NotifyLinkDown(s.Handle); err != nil {
			m.log.Warn("[BLE] teardown: HID notify failed", "link", s.Handle, "error", err)
		}
		if err := m.stack.Disconnect(s.Handle, ReasonRemoteUserTerminated); err != nil {
			m.log.Warn("[BLE] teardown: disconnect failed", "link", s.Handle, "error", err)
		}
		m.reg.slots[i] = Slot{}
	}

	m.stopAdvertising()
	m.log.Info("[BLE] links torn down")
}

// Advertising reports whether the stack was last told to advertise. Safe
// to call from any goroutine.
func (m *Manager) Advertising() bool { return m.advertising.Load() }

// Active returns the number of connected links.
func (m *Manager) Active() int { return m.reg.Active() }
