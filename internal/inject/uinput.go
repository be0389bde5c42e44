package inject

import (
	"fmt"
	"log/slog"

	"github.com/bendahl/uinput"
	evdev "github.com/holoplot/go-evdev"

	"github.com/chaz8081/blekbd/internal/keyboard"
	"github.com/chaz8081/blekbd/internal/link"
)

// DefaultUinputPath is the kernel's virtual input device node.
const DefaultUinputPath = "/dev/uinput"

// virtualKeyboard is the subset of uinput.Keyboard the sink needs.
type virtualKeyboard interface {
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

// uinputSink drives a kernel virtual keyboard, so reports reach every
// consumer of input events (console, X, Wayland) without a session.
type uinputSink struct {
	kbd virtualKeyboard
}

// NewUinputStack creates a virtual keyboard called name at path and returns
// a stack that replays reports into it. Close the stack to remove the
// device.
func NewUinputStack(path, name string, onEvent func(link.Event), logger *slog.Logger) (*DesktopStack, error) {
	if path == "" {
		path = DefaultUinputPath
	}
	kbd, err := uinput.CreateKeyboard(path, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("inject: create uinput keyboard: %w", err)
	}
	return NewStack(&uinputSink{kbd: kbd}, onEvent, logger), nil
}

func (s *uinputSink) KeyDown(usage uint8) error {
	code, ok := linuxKeyCode(usage)
	if !ok {
		return nil
	}
	return s.kbd.KeyDown(code)
}

func (s *uinputSink) KeyUp(usage uint8) error {
	code, ok := linuxKeyCode(usage)
	if !ok {
		return nil
	}
	return s.kbd.KeyUp(code)
}

func (s *uinputSink) Close() error { return s.kbd.Close() }

// linuxKeyNames maps HID usages to Linux input-event-codes names.
var linuxKeyNames = map[uint8]string{
	keyboard.KeyEnter:       "KEY_ENTER",
	keyboard.KeyEscape:      "KEY_ESC",
	keyboard.KeyBackspace:   "KEY_BACKSPACE",
	keyboard.KeyTab:         "KEY_TAB",
	keyboard.KeySpace:       "KEY_SPACE",
	keyboard.KeyMinus:       "KEY_MINUS",
	keyboard.KeyEqual:       "KEY_EQUAL",
	keyboard.KeyLeftBrace:   "KEY_LEFTBRACE",
	keyboard.KeyRightBrace:  "KEY_RIGHTBRACE",
	keyboard.KeyBackslash:   "KEY_BACKSLASH",
	keyboard.KeySemicolon:   "KEY_SEMICOLON",
	keyboard.KeyApostrophe:  "KEY_APOSTROPHE",
	keyboard.KeyGrave:       "KEY_GRAVE",
	keyboard.KeyComma:       "KEY_COMMA",
	keyboard.KeyDot:         "KEY_DOT",
	keyboard.KeySlash:       "KEY_SLASH",
	keyboard.KeyCapsLock:    "KEY_CAPSLOCK",
	keyboard.KeyPrintScreen: "KEY_SYSRQ",
	keyboard.KeyScrollLock:  "KEY_SCROLLLOCK",
	keyboard.KeyPause:       "KEY_PAUSE",
	keyboard.KeyInsert:      "KEY_INSERT",
	keyboard.KeyHome:        "KEY_HOME",
	keyboard.KeyPageUp:      "KEY_PAGEUP",
	keyboard.KeyDelete:      "KEY_DELETE",
	keyboard.KeyEnd:         "KEY_END",
	keyboard.KeyPageDown:    "KEY_PAGEDOWN",
	keyboard.KeyRight:       "KEY_RIGHT",
	keyboard.KeyLeft:        "KEY_LEFT",
	keyboard.KeyDown:        "KEY_DOWN",
	keyboard.KeyUp:          "KEY_UP",
	keyboard.KeyLeftCtrl:    "KEY_LEFTCTRL",
	keyboard.KeyLeftShift:   "KEY_LEFTSHIFT",
	keyboard.KeyLeftAlt:     "KEY_LEFTALT",
	keyboard.KeyLeftGUI:     "KEY_LEFTMETA",
	keyboard.KeyRightCtrl:   "KEY_RIGHTCTRL",
	keyboard.KeyRightShift:  "KEY_RIGHTSHIFT",
	keyboard.KeyRightAlt:    "KEY_RIGHTALT",
	keyboard.KeyRightGUI:    "KEY_RIGHTMETA",
}

func linuxKeyName(usage uint8) (string, bool) {
	switch {
	case usage >= keyboard.KeyA && usage <= keyboard.KeyZ:
		return "KEY_" + string(rune('A'+usage-keyboard.KeyA)), true
	case usage >= keyboard.Key1 && usage <= keyboard.Key9:
		return "KEY_" + string(rune('1'+usage-keyboard.Key1)), true
	case usage == keyboard.Key0:
		return "KEY_0", true
	case usage >= keyboard.KeyF1 && usage <= keyboard.KeyF12:
		return fmt.Sprintf("KEY_F%d", usage-keyboard.KeyF1+1), true
	}
	name, ok := linuxKeyNames[usage]
	return name, ok
}

func linuxKeyCode(usage uint8) (int, bool) {
	name, ok := linuxKeyName(usage)
	if !ok {
		return 0, false
	}
	code, ok := evdev.KEYFromString[name]
	return int(code), ok
}
