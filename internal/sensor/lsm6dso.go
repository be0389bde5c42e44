// Package sensor drives the LSM6DSO accelerometer/gyroscope the keyboard
// carries as an auxiliary peripheral. The only hard requirement is that it
// can be put into power-down before system-off.
package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddress is the LSM6DSO address with SA0 pulled low.
const DefaultAddress = 0x6A

const (
	regWhoAmI  = 0x0F
	regCtrl1XL = 0x10
	regCtrl2G  = 0x11
	regOutXG   = 0x22
	regOutXXL  = 0x28

	whoAmIValue = 0x6A

	// odr12Hz5 selects 12.5 Hz output data rate at the default full scale.
	odr12Hz5     = 0x20
	odrPowerDown = 0x00
)

// ErrWrongDevice is returned by Init when WHO_AM_I does not identify an
// LSM6DSO.
var ErrWrongDevice = errors.New("sensor: unexpected WHO_AM_I")

// Sample is one raw accelerometer and gyroscope reading.
type Sample struct {
	Accel [3]int16
	Gyro  [3]int16
}

// LSM6DSO talks to the sensor over a register-addressed connection.
type LSM6DSO struct {
	c      conn.Conn
	closer interface{ Close() error }
	log    *slog.Logger

	mu       sync.Mutex
	down     bool
	stopPoll context.CancelFunc
	pollDone chan struct{}
}

// New wraps an already-open connection, typically an *i2c.Dev.
func New(c conn.Conn, logger *slog.Logger) *LSM6DSO {
	if logger == nil {
		logger = slog.Default()
	}
	return &LSM6DSO{c: c, log: logger}
}

// Open initialises the periph host drivers and opens the named I2C bus.
// An empty bus name picks the first bus registered.
func Open(bus string, addr uint16, logger *slog.Logger) (*LSM6DSO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sensor: periph init: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("sensor: open i2c bus %q: %w", bus, err)
	}
	if addr == 0 {
		addr = DefaultAddress
	}
	d := New(&i2c.Dev{Bus: b, Addr: addr}, logger)
	d.closer = b
	return d, nil
}

// Init checks the device identity and starts both sensors at 12.5 Hz.
func (d *LSM6DSO) Init() error {
	id, err := d.readReg(regWhoAmI)
	if err != nil {
		return err
	}
	if id != whoAmIValue {
		return fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrWrongDevice, id, whoAmIValue)
	}
	if err := d.writeReg(regCtrl1XL, odr12Hz5); err != nil {
		return err
	}
	if err := d.writeReg(regCtrl2G, odr12Hz5); err != nil {
		return err
	}
	d.log.Info("[IMU] LSM6DSO initialised", "odr", "12.5Hz")
	return nil
}

// Sample burst-reads the accelerometer and gyroscope output registers.
func (d *LSM6DSO) Sample() (Sample, error) {
	var s Sample
	var buf [6]byte

	if err := d.c.Tx([]byte{regOutXXL}, buf[:]); err != nil {
		return s, fmt.Errorf("sensor: read accel: %w", err)
	}
	decodeAxes(&s.Accel, buf[:])

	if err := d.c.Tx([]byte{regOutXG}, buf[:]); err != nil {
		return s, fmt.Errorf("sensor: read gyro: %w", err)
	}
	decodeAxes(&s.Gyro, buf[:])
	return s, nil
}

// PowerDown stops any running Poll, waits for it to return, then selects
// the power-down data rate for both sensors. Both registers are attempted
// even if the first write fails. Later Poll calls return at once.
func (d *LSM6DSO) PowerDown() error {
	d.mu.Lock()
	d.down = true
	stop, done := d.stopPoll, d.pollDone
	d.stopPoll, d.pollDone = nil, nil
	d.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}

	return errors.Join(
		d.writeReg(regCtrl1XL, odrPowerDown),
		d.writeReg(regCtrl2G, odrPowerDown),
	)
}

// Poll samples every interval until ctx is done or PowerDown is called and
// hands each reading to fn. Read errors are logged and polling continues.
// Only one Poll may run at a time.
func (d *LSM6DSO) Poll(ctx context.Context, interval time.Duration, fn func(Sample)) {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	d.mu.Lock()
	if d.down {
		d.mu.Unlock()
		return
	}
	d.stopPoll, d.pollDone = cancel, done
	d.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := d.Sample()
			if err != nil {
				d.log.Warn("[IMU] sample failed", "error", err)
				continue
			}
			d.log.Debug("[IMU] sample",
				"ax", s.Accel[0], "ay", s.Accel[1], "az", s.Accel[2],
				"gx", s.Gyro[0], "gy", s.Gyro[1], "gz", s.Gyro[2])
			if fn != nil {
				fn(s)
			}
		}
	}
}

// Close releases the bus if Open created it.
func (d *LSM6DSO) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

func (d *LSM6DSO) readReg(reg byte) (byte, error) {
	var v [1]byte
	if err := d.c.Tx([]byte{reg}, v[:]); err != nil {
		return 0, fmt.Errorf("sensor: read reg 0x%02x: %w", reg, err)
	}
	return v[0], nil
}

func (d *LSM6DSO) writeReg(reg, val byte) error {
	if err := d.c.Tx([]byte{reg, val}, nil); err != nil {
		return fmt.Errorf("sensor: write reg 0x%02x: %w", reg, err)
	}
	return nil
}

func decodeAxes(dst *[3]int16, b []byte) {
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
}
