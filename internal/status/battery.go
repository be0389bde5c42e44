package status

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultBatteryInterval is how often the capacity file is re-read.
const DefaultBatteryInterval = time.Minute

// Battery copies a power-supply capacity reading (for example
// /sys/class/power_supply/BAT0/capacity) into the BLE Battery service.
type Battery struct {
	Path     string
	Set      func(pct uint8) error
	Interval time.Duration
	Log      *slog.Logger

	last int
}

// Read returns the current capacity clamped to 0..100.
func (b *Battery) Read() (uint8, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return 0, fmt.Errorf("status: read battery: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("status: parse battery %q: %w", strings.TrimSpace(string(data)), err)
	}
	return uint8(min(max(v, 0), 100)), nil
}

// Run publishes the level immediately and then whenever it changes.
func (b *Battery) Run(ctx context.Context) {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultBatteryInterval
	}
	b.last = -1

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		b.update(log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Battery) update(log *slog.Logger) {
	pct, err := b.Read()
	if err != nil {
		log.Warn("[STATUS] battery read failed", "error", err)
		return
	}
	if int(pct) == b.last {
		return
	}
	if err := b.Set(pct); err != nil {
		log.Warn("[STATUS] battery publish failed", "error", err)
		return
	}
	b.last = int(pct)
	log.Debug("[STATUS] battery level", "percent", pct)
}
