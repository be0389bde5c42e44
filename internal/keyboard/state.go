// Package keyboard aggregates key-down/key-up edges into the 8-byte HID boot
// keyboard input report: one modifier byte, one reserved byte and six key
// slots.
package keyboard

import "errors"

const (
	// MaxKeys is the number of non-modifier keys a boot report can carry.
	MaxKeys = 6
	// ReportSize is the length of a serialized input report.
	ReportSize = 2 + MaxKeys

	modifierMin = KeyLeftCtrl
	modifierMax = KeyRightGUI
)

// ErrSlotsExhausted is returned by Press when all key slots are occupied.
var ErrSlotsExhausted = errors.New("keyboard: all key slots occupied")

// IsModifier reports whether code is one of the eight modifier usages.
func IsModifier(code uint8) bool {
	return code >= modifierMin && code <= modifierMax
}

// ModifierBit returns the report bit for a modifier usage, or 0 for any
// other code.
func ModifierBit(code uint8) uint8 {
	if !IsModifier(code) {
		return 0
	}
	return 1 << (code - modifierMin)
}

// State is the pressed-key set plus the modifier mask. The zero value is an
// empty keyboard. State is not safe for concurrent use; it belongs to the
// dispatch goroutine.
type State struct {
	modifiers uint8
	keys      [MaxKeys]uint8
}

// Press records code as held. Modifiers set their bit and never take a
// slot. Other codes go into the first free slot in index order; when none
// is free ErrSlotsExhausted is returned and the state is unchanged.
func (s *State) Press(code uint8) error {
	if bit := ModifierBit(code); bit != 0 {
		s.modifiers |= bit
		return nil
	}
	for i := range s.keys {
		if s.keys[i] == KeyNone {
			s.keys[i] = code
			return nil
		}
	}
	return ErrSlotsExhausted
}

// Release clears code. Modifiers clear their bit. Other codes clear the
// first matching slot. Releasing a key that is not held is not an error;
// the return value is false in that case so callers can log it.
func (s *State) Release(code uint8) bool {
	if bit := ModifierBit(code); bit != 0 {
		held := s.modifiers&bit != 0
		s.modifiers &^= bit
		return held
	}
	for i := range s.keys {
		if s.keys[i] == code {
			s.keys[i] = KeyNone
			return true
		}
	}
	return false
}

// Modifiers returns the current modifier mask.
func (s *State) Modifiers() uint8 { return s.modifiers }

// Pressed returns the number of occupied key slots.
func (s *State) Pressed() int {
	n := 0
	for _, k := range s.keys {
		if k != KeyNone {
			n++
		}
	}
	return n
}

// Reset releases everything.
func (s *State) Reset() {
	s.modifiers = 0
	s.keys = [MaxKeys]uint8{}
}

// Report serializes the state: byte 0 is the modifier mask, byte 1 is
// reserved, bytes 2..7 are the slots in slot order.
func (s *State) Report() [ReportSize]byte {
	var r [ReportSize]byte
	r[0] = s.modifiers
	copy(r[2:], s.keys[:])
	return r
}

// AppendReport appends the serialized report to dst.
func (s *State) AppendReport(dst []byte) []byte {
	r := s.Report()
	return append(dst, r[:]...)
}
