package input

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphSource uses periph.io pin names ("GPIO17", "P1_11"). Each pin gets
// a goroutine blocked in WaitForEdge that only signals.
type periphSource struct {
	names     []string
	activeLow bool
	log       *slog.Logger
	pins      []gpio.PinIO
}

func newPeriphSource(opts Options, logger *slog.Logger) *periphSource {
	return &periphSource{names: opts.Lines, activeLow: opts.ActiveLow, log: logger}
}

func (s *periphSource) Start(ctx context.Context, signal func(pins uint32)) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("input: periph host init: %w", err)
	}

	pull := gpio.PullDown
	if s.activeLow {
		pull = gpio.PullUp
	}

	pins := make([]gpio.PinIO, len(s.names))
	for i, name := range s.names {
		p := gpioreg.ByName(name)
		if p == nil {
			return fmt.Errorf("input: periph pin %q not found", name)
		}
		if err := p.In(pull, gpio.BothEdges); err != nil {
			return fmt.Errorf("input: configure %s: %w", name, err)
		}
		pins[i] = p
	}
	// Level may be called as soon as the first edge arrives, so the slice
	// is published only once fully populated.
	s.pins = pins

	for i, p := range pins {
		bit := uint32(1) << i
		go func() {
			for ctx.Err() == nil {
				if p.WaitForEdge(time.Second) {
					signal(bit)
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *periphSource) Level(pin int) bool {
	if pin < 0 || pin >= len(s.pins) {
		return false
	}
	l := s.pins[pin].Read()
	if s.activeLow {
		return l == gpio.Low
	}
	return l == gpio.High
}

func (s *periphSource) Close() error {
	var first error
	for _, p := range s.pins {
		if err := p.Halt(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
