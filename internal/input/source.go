package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// MaxButtons is the number of buttons an Edge pin mask can address.
const MaxButtons = 32

// Source is an edge-interrupt provider. Start arms edge detection and
// calls signal with the pin mask of every button that saw an edge; signal
// must be cheap and must not block.
type Source interface {
	LevelSource
	Start(ctx context.Context, signal func(pins uint32)) error
	Close() error
}

// Options selects and configures an input backend.
type Options struct {
	// Backend is one of "gpiocdev", "periph", "evdev" or "hook".
	Backend string
	// Chip is the GPIO character device for gpiocdev, e.g. "gpiochip0".
	Chip string
	// Device is the input event device for evdev, e.g. "/dev/input/event0".
	Device string
	// ActiveLow means a pressed button pulls the line low (pull-up wiring).
	ActiveLow bool
	// Lines names the backend line for each button, indexed by pin.
	Lines []string
}

// Open constructs the backend named by opts.Backend.
func Open(opts Options, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Lines) == 0 {
		return nil, fmt.Errorf("input: no buttons configured")
	}
	if len(opts.Lines) > MaxButtons {
		return nil, fmt.Errorf("input: %d buttons configured, max %d", len(opts.Lines), MaxButtons)
	}

	switch opts.Backend {
	case "gpiocdev":
		return newGPIOCDevSource(opts, logger)
	case "periph":
		return newPeriphSource(opts, logger), nil
	case "evdev":
		return newEvdevSource(opts, logger)
	case "hook":
		return newHookSource(opts, logger), nil
	default:
		return nil, fmt.Errorf("input: unknown backend %q", opts.Backend)
	}
}

// levelBits tracks per-pin levels for backends that learn the level from
// the event stream rather than by reading the line.
type levelBits struct {
	v atomic.Uint32
}

func (l *levelBits) set(pin int, down bool) {
	if down {
		l.v.Or(1 << pin)
	} else {
		l.v.And(^(uint32(1) << pin))
	}
}

func (l *levelBits) get(pin int) bool {
	return l.v.Load()&(1<<pin) != 0
}
