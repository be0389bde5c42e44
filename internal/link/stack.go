package link

import "fmt"

// ReasonRemoteUserTerminated is the HCI reason passed to Stack.Disconnect.
const ReasonRemoteUserTerminated uint8 = 0x13

// Stack is the BLE/HID collaborator the core drives. Implementations must
// be safe to call from the dispatch goroutine while their own callbacks
// run elsewhere.
type Stack interface {
	// SendReport pushes one serialized input report to link h.
	SendReport(h Handle, mode Mode, payload []byte) error
	// NotifyLinkUp tells the HID service a link is ready for reports.
	NotifyLinkUp(h Handle) error
	// NotifyLinkDown tells the HID service a link is going away.
	NotifyLinkDown(h Handle) error
	// Disconnect asks the controller to terminate link h.
	Disconnect(h Handle, reason uint8) error
	StartAdvertising() error
	StopAdvertising() error
}

// EventKind classifies a LinkEvent.
type EventKind int

const (
	EventUp EventKind = iota
	EventDown
	EventMode
)

func (k EventKind) String() string {
	switch k {
	case EventUp:
		return "up"
	case EventDown:
		return "down"
	case EventMode:
		return "mode"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a stack callback converted to a message for the dispatch
// goroutine.
type Event struct {
	Kind   EventKind
	Handle Handle
	Mode   Mode  // EventMode only
	Reason uint8 // EventDown only
}

// TransportError reports a failed report send on one link.
type TransportError struct {
	Handle Handle
	Mode   Mode
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: send %s report to %s: %v", e.Mode, e.Handle, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
