package power

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultGrace is how long the sequence waits after requesting disconnects
// before cutting power, so the controller can finish link termination.
const DefaultGrace = 100 * time.Millisecond

// ErrPoweredOff is returned by Sequence.Run. On hardware Run never returns;
// seeing this error means the power-off primitive came back and the caller
// should exit the process.
var ErrPoweredOff = errors.New("power: system power-off requested")

// Peripheral is an auxiliary device that can be put into its lowest power
// state.
type Peripheral interface {
	PowerDown() error
}

// Teardowner closes all radio links and stops advertising. It must not
// fail: errors are its own to log.
type Teardowner interface {
	Teardown()
}

// PowerOff is the platform power-off primitive.
type PowerOff interface {
	PowerOff() error
}

// PowerOffFunc adapts a function to PowerOff.
type PowerOffFunc func() error

func (f PowerOffFunc) PowerOff() error { return f() }

// Sequence is the Firing to PoweringDown work. It runs in thread context
// because it sleeps and, on hardware, never returns.
type Sequence struct {
	Peripherals []Peripheral
	Links       Teardowner
	Off         PowerOff
	Grace       time.Duration
	Log         *slog.Logger

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Run powers down peripherals, tears down links, waits the grace period and
// powers off. No step can abort it.
func (s *Sequence) Run() error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	log.Warn("[POWER] no activity, disconnecting and powering off")

	for _, p := range s.Peripherals {
		if p == nil {
			continue
		}
		if err := p.PowerDown(); err != nil {
			log.Error("[POWER] peripheral power-down failed", "error", err)
			continue
		}
		log.Info("[POWER] peripheral powered down")
	}

	if s.Links != nil {
		s.Links.Teardown()
	}

	grace := s.Grace
	if grace < 0 {
		grace = 0
	}
	log.Debug("[POWER] grace period", "duration", grace)
	sleep(grace)

	log.Info("[POWER] entering system-off")
	if s.Off == nil {
		return ErrPoweredOff
	}
	if err := s.Off.PowerOff(); err != nil {
		log.Error("[POWER] power-off primitive failed", "error", err)
		return fmt.Errorf("%w: %w", ErrPoweredOff, err)
	}
	return ErrPoweredOff
}
