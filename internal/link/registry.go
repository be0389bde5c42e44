// Package link tracks the BLE links a keyboard report goes to and applies
// the advertising policy around them. Registry and Manager are owned by
// the dispatch goroutine and are not safe for concurrent use.
package link

import (
	"errors"
	"fmt"
)

// Handle identifies one link. The BLE stack uses the peer address.
type Handle string

// Mode selects how reports are framed on a link.
type Mode int

const (
	// ModeReport is the default report protocol.
	ModeReport Mode = iota
	// ModeBoot is the boot keyboard protocol.
	ModeBoot
)

func (m Mode) String() string {
	switch m {
	case ModeBoot:
		return "boot"
	default:
		return "report"
	}
}

// DefaultMaxConnections mirrors the two-client HID service configuration.
const DefaultMaxConnections = 2

var (
	// ErrRegistryFull is returned by Assign when every slot is occupied.
	ErrRegistryFull = errors.New("link: no free connection slot")
	// ErrDuplicate is returned by Assign when the handle already has a slot.
	ErrDuplicate = errors.New("link: handle already registered")
)

// Slot is one registry entry. A free slot has an empty Handle.
type Slot struct {
	Handle Handle
	Mode   Mode
}

// Free reports whether the slot is unused.
func (s Slot) Free() bool { return s.Handle == "" }

// Registry is a fixed-capacity table of active links. Lookups scan in index
// order so "first free" and "first match" are deterministic.
type Registry struct {
	slots []Slot
}

// NewRegistry returns a Registry with capacity slots.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultMaxConnections
	}
	return &Registry{slots: make([]Slot, capacity)}
}

// Cap returns the number of slots.
func (r *Registry) Cap() int { return len(r.slots) }

// Assign places h in the first free slot with ModeReport and returns its
// index.
func (r *Registry) Assign(h Handle) (int, error) {
	if h == "" {
		return -1, fmt.Errorf("link: assign: empty handle")
	}
	if r.index(h) >= 0 {
		return -1, fmt.Errorf("link: assign %s: %w", h, ErrDuplicate)
	}
	for i := range r.slots {
		if r.slots[i].Free() {
			r.slots[i] = Slot{Handle: h, Mode: ModeReport}
			return i, nil
		}
	}
	return -1, ErrRegistryFull
}

// Release clears the slot holding h and its mode. It returns false if h
// was not registered.
func (r *Registry) Release(h Handle) bool {
	i := r.index(h)
	if i < 0 {
		return false
	}
	r.slots[i] = Slot{}
	return true
}

// SetMode changes the delivery mode of h.
func (r *Registry) SetMode(h Handle, m Mode) bool {
	i := r.index(h)
	if i < 0 {
		return false
	}
	r.slots[i].Mode = m
	return true
}

// Lookup returns the slot holding h.
func (r *Registry) Lookup(h Handle) (Slot, bool) {
	i := r.index(h)
	if i < 0 {
		return Slot{}, false
	}
	return r.slots[i], true
}

// ForEachActive calls fn for every occupied slot in index order. A failing
// call does not stop the walk; all errors are joined.
func (r *Registry) ForEachActive(fn func(Slot) error) error {
	var errs []error
	for _, s := range r.slots {
		if s.Free() {
			continue
		}
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the number of occupied slots.
func (r *Registry) Active() int {
	n := 0
	for _, s := range r.slots {
		if !s.Free() {
			n++
		}
	}
	return n
}

// HasFree reports whether at least one slot is unused.
func (r *Registry) HasFree() bool { return r.Active() < len(r.slots) }

func (r *Registry) index(h Handle) int {
	if h == "" {
		return -1
	}
	for i, s := range r.slots {
		if s.Handle == h {
			return i
		}
	}
	return -1
}
