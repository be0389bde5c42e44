package input

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// evdevSource reads buttons that the kernel exposes as an input device,
// typically through the gpio-keys driver. The kernel already debounces, but
// events still go through the Debouncer so every backend behaves the same.
type evdevSource struct {
	path   string
	codes  map[evdev.EvCode]int
	log    *slog.Logger
	levels levelBits
	dev    *evdev.InputDevice
}

func newEvdevSource(opts Options, logger *slog.Logger) (*evdevSource, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("input: evdev backend needs a device path")
	}
	codes := make(map[evdev.EvCode]int, len(opts.Lines))
	for i, l := range opts.Lines {
		code, err := parseEvCode(l)
		if err != nil {
			return nil, err
		}
		codes[code] = i
	}
	return &evdevSource{path: opts.Device, codes: codes, log: logger}, nil
}

// parseEvCode accepts a numeric code or a name such as "KEY_VOLUMEUP".
func parseEvCode(s string) (evdev.EvCode, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return evdev.EvCode(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "KEY_") && !strings.HasPrefix(name, "BTN_") {
		name = "KEY_" + name
	}
	if code, ok := evdev.KEYFromString[name]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("input: unknown evdev key %q", s)
}

func (s *evdevSource) Start(ctx context.Context, signal func(pins uint32)) error {
	dev, err := evdev.Open(s.path)
	if err != nil {
		return fmt.Errorf("input: open %s: %w", s.path, err)
	}
	s.dev = dev

	go func() {
		<-ctx.Done()
		dev.Close()
	}()

	go func() {
		for {
			ev, err := dev.ReadOne()
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("[INPUT] evdev read failed", "device", s.path, "error", err)
				}
				return
			}
			if ev.Type != evdev.EV_KEY {
				continue
			}
			pin, ok := s.codes[ev.Code]
			if !ok {
				continue
			}
			// 0 = release, 1 = press, 2 = autorepeat.
			if ev.Value == 2 {
				continue
			}
			s.levels.set(pin, ev.Value == 1)
			signal(uint32(1) << pin)
		}
	}()
	return nil
}

func (s *evdevSource) Level(pin int) bool { return s.levels.get(pin) }

func (s *evdevSource) Close() error {
	if s.dev == nil {
		return nil
	}
	return s.dev.Close()
}
