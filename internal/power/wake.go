package power

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// WakeCause is what brought the system out of power-off.
type WakeCause int

const (
	WakeUnknown WakeCause = iota
	WakePowerOn
	WakeButton
)

func (c WakeCause) String() string {
	switch c {
	case WakePowerOn:
		return "power-on"
	case WakeButton:
		return "button"
	default:
		return "unknown"
	}
}

// ParseWakeCause maps a latch token to a WakeCause.
func ParseWakeCause(s string) WakeCause {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "button", "gpio", "key":
		return WakeButton
	case "", "power-on", "poweron", "reset":
		return WakePowerOn
	default:
		return WakeUnknown
	}
}

// ReadAndClearWakeLatch reads the wake cause a boot hook left at path and
// truncates the file so the latch is consumed once. An empty path or a
// missing file means a plain power-on.
func ReadAndClearWakeLatch(path string) (WakeCause, error) {
	if path == "" {
		return WakePowerOn, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return WakePowerOn, nil
	}
	if err != nil {
		return WakeUnknown, fmt.Errorf("power: read wake latch: %w", err)
	}
	cause := ParseWakeCause(string(data))
	if err := os.Truncate(path, 0); err != nil {
		return cause, fmt.Errorf("power: clear wake latch: %w", err)
	}
	return cause, nil
}
