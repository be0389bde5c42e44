// Package status drives the advertising LED and publishes the battery
// level.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// BlinkInterval is the LED toggle period while advertising.
const BlinkInterval = time.Second

// Blinker flashes an LED while the device is advertising and holds it off
// otherwise.
type Blinker struct {
	pin         gpio.PinOut
	advertising func() bool
	log         *slog.Logger

	lit bool
}

// NewBlinker returns a Blinker on pin. A nil pin gives a Blinker whose
// Run only waits for ctx.
func NewBlinker(pin gpio.PinOut, advertising func() bool, logger *slog.Logger) *Blinker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Blinker{pin: pin, advertising: advertising, log: logger}
}

// OpenLED looks up a GPIO by periph name, such as "GPIO27".
func OpenLED(name string) (gpio.PinOut, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("status: periph init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("status: no GPIO named %q", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("status: %s: %w", name, err)
	}
	return p, nil
}

// Run toggles the LED every BlinkInterval until ctx is done, then turns it
// off.
func (b *Blinker) Run(ctx context.Context) {
	if b.pin == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(BlinkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.set(false)
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Blinker) tick() {
	if b.advertising != nil && b.advertising() {
		b.set(!b.lit)
		return
	}
	if b.lit {
		b.set(false)
	}
}

func (b *Blinker) set(on bool) {
	if b.pin == nil {
		return
	}
	if err := b.pin.Out(gpio.Level(on)); err != nil {
		b.log.Warn("[STATUS] LED write failed", "error", err)
		return
	}
	b.lit = on
}
