package keyboard

import "strings"

// HID usage codes for the Keyboard/Keypad usage page (0x07).
const (
	KeyNone = 0x00

	KeyA = 0x04
	KeyB = 0x05
	KeyC = 0x06
	KeyD = 0x07
	KeyE = 0x08
	KeyF = 0x09
	KeyG = 0x0A
	KeyH = 0x0B
	KeyI = 0x0C
	KeyJ = 0x0D
	KeyK = 0x0E
	KeyL = 0x0F
	KeyM = 0x10
	KeyN = 0x11
	KeyO = 0x12
	KeyP = 0x13
	KeyQ = 0x14
	KeyR = 0x15
	KeyS = 0x16
	KeyT = 0x17
	KeyU = 0x18
	KeyV = 0x19
	KeyW = 0x1A
	KeyX = 0x1B
	KeyY = 0x1C
	KeyZ = 0x1D

	Key1 = 0x1E
	Key2 = 0x1F
	Key3 = 0x20
	Key4 = 0x21
	Key5 = 0x22
	Key6 = 0x23
	Key7 = 0x24
	Key8 = 0x25
	Key9 = 0x26
	Key0 = 0x27

	KeyEnter      = 0x28
	KeyEscape     = 0x29
	KeyBackspace  = 0x2A
	KeyTab        = 0x2B
	KeySpace      = 0x2C
	KeyMinus      = 0x2D
	KeyEqual      = 0x2E
	KeyLeftBrace  = 0x2F
	KeyRightBrace = 0x30
	KeyBackslash  = 0x31
	KeySemicolon  = 0x33
	KeyApostrophe = 0x34
	KeyGrave      = 0x35
	KeyComma      = 0x36
	KeyDot        = 0x37
	KeySlash      = 0x38
	KeyCapsLock   = 0x39

	KeyF1  = 0x3A
	KeyF2  = 0x3B
	KeyF3  = 0x3C
	KeyF4  = 0x3D
	KeyF5  = 0x3E
	KeyF6  = 0x3F
	KeyF7  = 0x40
	KeyF8  = 0x41
	KeyF9  = 0x42
	KeyF10 = 0x43
	KeyF11 = 0x44
	KeyF12 = 0x45

	KeyPrintScreen = 0x46
	KeyScrollLock  = 0x47
	KeyPause       = 0x48
	KeyInsert      = 0x49
	KeyHome        = 0x4A
	KeyPageUp      = 0x4B
	KeyDelete      = 0x4C
	KeyEnd         = 0x4D
	KeyPageDown    = 0x4E
	KeyRight       = 0x4F
	KeyLeft        = 0x50
	KeyDown        = 0x51
	KeyUp          = 0x52

	// Modifiers occupy 0xE0..0xE7 and map to bits 0..7 of the report's first byte.
	KeyLeftCtrl   = 0xE0
	KeyLeftShift  = 0xE1
	KeyLeftAlt    = 0xE2
	KeyLeftGUI    = 0xE3
	KeyRightCtrl  = 0xE4
	KeyRightShift = 0xE5
	KeyRightAlt   = 0xE6
	KeyRightGUI   = 0xE7
)

// Modifier bitmasks as they appear in report byte 0.
const (
	ModLeftCtrl   = 0x01
	ModLeftShift  = 0x02
	ModLeftAlt    = 0x04
	ModLeftGUI    = 0x08
	ModRightCtrl  = 0x10
	ModRightShift = 0x20
	ModRightAlt   = 0x40
	ModRightGUI   = 0x80
)

var keyNames = map[string]uint8{
	"a": KeyA, "b": KeyB, "c": KeyC, "d": KeyD, "e": KeyE, "f": KeyF,
	"g": KeyG, "h": KeyH, "i": KeyI, "j": KeyJ, "k": KeyK, "l": KeyL,
	"m": KeyM, "n": KeyN, "o": KeyO, "p": KeyP, "q": KeyQ, "r": KeyR,
	"s": KeyS, "t": KeyT, "u": KeyU, "v": KeyV, "w": KeyW, "x": KeyX,
	"y": KeyY, "z": KeyZ,

	"1": Key1, "2": Key2, "3": Key3, "4": Key4, "5": Key5,
	"6": Key6, "7": Key7, "8": Key8, "9": Key9, "0": Key0,

	"enter":      KeyEnter,
	"escape":     KeyEscape,
	"esc":        KeyEscape,
	"backspace":  KeyBackspace,
	"tab":        KeyTab,
	"space":      KeySpace,
	"minus":      KeyMinus,
	"equal":      KeyEqual,
	"leftbrace":  KeyLeftBrace,
	"rightbrace": KeyRightBrace,
	"backslash":  KeyBackslash,
	"semicolon":  KeySemicolon,
	"apostrophe": KeyApostrophe,
	"grave":      KeyGrave,
	"comma":      KeyComma,
	"dot":        KeyDot,
	"slash":      KeySlash,
	"capslock":   KeyCapsLock,

	"f1": KeyF1, "f2": KeyF2, "f3": KeyF3, "f4": KeyF4,
	"f5": KeyF5, "f6": KeyF6, "f7": KeyF7, "f8": KeyF8,
	"f9": KeyF9, "f10": KeyF10, "f11": KeyF11, "f12": KeyF12,

	"printscreen": KeyPrintScreen,
	"scrolllock":  KeyScrollLock,
	"pause":       KeyPause,
	"insert":      KeyInsert,
	"home":        KeyHome,
	"pageup":      KeyPageUp,
	"delete":      KeyDelete,
	"end":         KeyEnd,
	"pagedown":    KeyPageDown,
	"right":       KeyRight,
	"left":        KeyLeft,
	"down":        KeyDown,
	"up":          KeyUp,

	"lctrl":  KeyLeftCtrl,
	"lshift": KeyLeftShift,
	"lalt":   KeyLeftAlt,
	"lgui":   KeyLeftGUI,
	"rctrl":  KeyRightCtrl,
	"rshift": KeyRightShift,
	"ralt":   KeyRightAlt,
	"rgui":   KeyRightGUI,

	"ctrl":  KeyLeftCtrl,
	"shift": KeyLeftShift,
	"alt":   KeyLeftAlt,
	"gui":   KeyLeftGUI,
	"cmd":   KeyLeftGUI,
}

// Lookup resolves a key name such as "h", "LSHIFT", "KEY_ENTER" or
// "HID_KEY_A" to its usage code.
func Lookup(name string) (uint8, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "hid_")
	n = strings.TrimPrefix(n, "key_")
	code, ok := keyNames[n]
	return code, ok
}

// Name returns the canonical short name of a usage code, or "" if the
// code has no name.
func Name(code uint8) string {
	best := ""
	for name, c := range keyNames {
		if c != code {
			continue
		}
		// Prefer the shortest, then lexically first, so aliases are stable.
		if best == "" || len(name) < len(best) || (len(name) == len(best) && name < best) {
			best = name
		}
	}
	return best
}

// Names returns every recognized key name.
func Names() []string {
	names := make([]string, 0, len(keyNames))
	for name := range keyNames {
		names = append(names, name)
	}
	return names
}
