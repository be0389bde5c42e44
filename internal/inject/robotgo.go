package inject

import (
	"github.com/go-vgo/robotgo"

	"github.com/chaz8081/blekbd/internal/keyboard"
)

// robotgoSink toggles keys in the current desktop session.
type robotgoSink struct {
	toggle func(key, dir string) error
}

func newRobotgoSink() *robotgoSink {
	return &robotgoSink{
		toggle: func(key, dir string) error {
			return robotgo.KeyToggle(key, dir)
		},
	}
}

func (s *robotgoSink) KeyDown(usage uint8) error {
	name, ok := robotgoName(usage)
	if !ok {
		return nil
	}
	return s.toggle(name, "down")
}

func (s *robotgoSink) KeyUp(usage uint8) error {
	name, ok := robotgoName(usage)
	if !ok {
		return nil
	}
	return s.toggle(name, "up")
}

var robotgoNames = map[uint8]string{
	keyboard.KeyEnter:       "enter",
	keyboard.KeyEscape:      "esc",
	keyboard.KeyBackspace:   "backspace",
	keyboard.KeyTab:         "tab",
	keyboard.KeySpace:       "space",
	keyboard.KeyMinus:       "-",
	keyboard.KeyEqual:       "=",
	keyboard.KeyLeftBrace:   "[",
	keyboard.KeyRightBrace:  "]",
	keyboard.KeyBackslash:   "\\",
	keyboard.KeySemicolon:   ";",
	keyboard.KeyApostrophe:  "'",
	keyboard.KeyGrave:       "`",
	keyboard.KeyComma:       ",",
	keyboard.KeyDot:         ".",
	keyboard.KeySlash:       "/",
	keyboard.KeyCapsLock:    "capslock",
	keyboard.KeyF1:          "f1",
	keyboard.KeyF2:          "f2",
	keyboard.KeyF3:          "f3",
	keyboard.KeyF4:          "f4",
	keyboard.KeyF5:          "f5",
	keyboard.KeyF6:          "f6",
	keyboard.KeyF7:          "f7",
	keyboard.KeyF8:          "f8",
	keyboard.KeyF9:          "f9",
	keyboard.KeyF10:         "f10",
	keyboard.KeyF11:         "f11",
	keyboard.KeyF12:         "f12",
	keyboard.KeyPrintScreen: "printscreen",
	keyboard.KeyInsert:      "insert",
	keyboard.KeyHome:        "home",
	keyboard.KeyPageUp:      "pageup",
	keyboard.KeyDelete:      "delete",
	keyboard.KeyEnd:         "end",
	keyboard.KeyPageDown:    "pagedown",
	keyboard.KeyRight:       "right",
	keyboard.KeyLeft:        "left",
	keyboard.KeyDown:        "down",
	keyboard.KeyUp:          "up",
	keyboard.KeyLeftCtrl:    "lctrl",
	keyboard.KeyLeftShift:   "lshift",
	keyboard.KeyLeftAlt:     "lalt",
	keyboard.KeyLeftGUI:     "lcmd",
	keyboard.KeyRightCtrl:   "rctrl",
	keyboard.KeyRightShift:  "rshift",
	keyboard.KeyRightAlt:    "ralt",
	keyboard.KeyRightGUI:    "rcmd",
}

func robotgoName(code uint8) (string, bool) {
	switch {
	case code >= keyboard.KeyA && code <= keyboard.KeyZ:
		return string(rune('a' + code - keyboard.KeyA)), true
	case code >= keyboard.Key1 && code <= keyboard.Key9:
		return string(rune('1' + code - keyboard.Key1)), true
	case code == keyboard.Key0:
		return "0", true
	}
	name, ok := robotgoNames[code]
	return name, ok
}
