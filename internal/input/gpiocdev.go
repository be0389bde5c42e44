package input

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// gpiocdevSource watches lines on a Linux GPIO character device. The
// library's event handler runs on its own goroutine and plays the role of
// the interrupt handler: it only signals the debouncer.
type gpiocdevSource struct {
	chip      string
	offsets   []int
	activeLow bool
	log       *slog.Logger

	mu    sync.RWMutex
	lines []*gpiocdev.Line
}

func newGPIOCDevSource(opts Options, logger *slog.Logger) (*gpiocdevSource, error) {
	chip := opts.Chip
	if chip == "" {
		chip = "gpiochip0"
	}
	offsets := make([]int, len(opts.Lines))
	for i, l := range opts.Lines {
		off, err := strconv.Atoi(l)
		if err != nil {
			return nil, fmt.Errorf("input: gpiocdev line %q is not an offset: %w", l, err)
		}
		offsets[i] = off
	}
	return &gpiocdevSource{
		chip:      chip,
		offsets:   offsets,
		activeLow: opts.ActiveLow,
		log:       logger,
		lines:     make([]*gpiocdev.Line, len(offsets)),
	}, nil
}

func (s *gpiocdevSource) Start(ctx context.Context, signal func(pins uint32)) error {
	for i, off := range s.offsets {
		bit := uint32(1) << i
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { signal(bit) }),
		}
		if s.activeLow {
			opts = append(opts, gpiocdev.WithPullUp)
		} else {
			opts = append(opts, gpiocdev.WithPullDown)
		}

		line, err := gpiocdev.RequestLine(s.chip, off, opts...)
		if err != nil {
			s.Close()
			return fmt.Errorf("input: request %s line %d: %w", s.chip, off, err)
		}
		s.mu.Lock()
		s.lines[i] = line
		s.mu.Unlock()
		s.log.Debug("[INPUT] gpio line armed", "chip", s.chip, "offset", off, "pin", i)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *gpiocdevSource) Level(pin int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pin < 0 || pin >= len(s.lines) || s.lines[pin] == nil {
		return false
	}
	v, err := s.lines[pin].Value()
	if err != nil {
		s.log.Warn("[INPUT] gpio read failed", "pin", pin, "error", err)
		return false
	}
	if s.activeLow {
		return v == 0
	}
	return v == 1
}

func (s *gpiocdevSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for i, l := range s.lines {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
		s.lines[i] = nil
	}
	return first
}
