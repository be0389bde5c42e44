package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func newPlayback(ops ...i2ctest.IO) (*i2ctest.Playback, *LSM6DSO) {
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	return bus, New(&i2c.Dev{Bus: bus, Addr: DefaultAddress}, nil)
}

func TestInit(t *testing.T) {
	bus, d := newPlayback(
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regWhoAmI}, R: []byte{whoAmIValue}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regCtrl1XL, odr12Hz5}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regCtrl2G, odr12Hz5}},
	)
	if err := d.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unconsumed bus ops: %v", err)
	}
}

func TestInitWrongDevice(t *testing.T) {
	_, d := newPlayback(
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regWhoAmI}, R: []byte{0x69}},
	)
	err := d.Init()
	if !errors.Is(err, ErrWrongDevice) {
		t.Errorf("Init() error = %v, want ErrWrongDevice", err)
	}
}

func TestSample(t *testing.T) {
	bus, d := newPlayback(
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regOutXXL}, R: []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x40}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regOutXG}, R: []byte{0x10, 0x00, 0x00, 0x80, 0x34, 0x12}},
	)
	s, err := d.Sample()
	if err != nil {
		t.Fatalf("Sample() error: %v", err)
	}
	wantAccel := [3]int16{1, -1, 0x4000}
	wantGyro := [3]int16{0x10, -32768, 0x1234}
	if s.Accel != wantAccel {
		t.Errorf("Accel = %v, want %v", s.Accel, wantAccel)
	}
	if s.Gyro != wantGyro {
		t.Errorf("Gyro = %v, want %v", s.Gyro, wantGyro)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unconsumed bus ops: %v", err)
	}
}

func TestPowerDown(t *testing.T) {
	bus, d := newPlayback(
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regCtrl1XL, odrPowerDown}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{regCtrl2G, odrPowerDown}},
	)
	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown() error: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unconsumed bus ops: %v", err)
	}
}

// failConn records writes and fails every transaction.
type failConn struct {
	writes [][]byte
}

func (f *failConn) String() string { return "fail" }

func (f *failConn) Duplex() conn.Duplex { return conn.Half }

func (f *failConn) Tx(w, r []byte) error {
	f.writes = append(f.writes, append([]byte(nil), w...))
	return errors.New("nack")
}

func TestPowerDownAttemptsBothRegisters(t *testing.T) {
	fc := &failConn{}
	d := New(fc, nil)
	if err := d.PowerDown(); err == nil {
		t.Fatal("expected error from failing bus")
	}
	if len(fc.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(fc.writes))
	}
	if fc.writes[1][0] != regCtrl2G {
		t.Errorf("second write reg = 0x%02x, want 0x%02x", fc.writes[1][0], regCtrl2G)
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	d := New(&failConn{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Poll(ctx, time.Millisecond, nil)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}
}

// recordConn records every transaction and returns zeroed reads.
type recordConn struct {
	mu  sync.Mutex
	ops [][]byte
}

func (c *recordConn) String() string { return "record" }

func (c *recordConn) Duplex() conn.Duplex { return conn.Half }

func (c *recordConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, append([]byte(nil), w...))
	clear(r)
	return nil
}

func (c *recordConn) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.ops...)
}

func TestPowerDownStopsPolling(t *testing.T) {
	rc := &recordConn{}
	d := New(rc, nil)
	done := make(chan struct{})
	go func() {
		d.Poll(context.Background(), time.Millisecond, nil)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(rc.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Poll never sampled")
		}
		time.Sleep(time.Millisecond)
	}

	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown() error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll still running after PowerDown")
	}

	ops := rc.snapshot()
	time.Sleep(10 * time.Millisecond)
	if got := len(rc.snapshot()); got != len(ops) {
		t.Errorf("bus saw %d transactions after PowerDown", got-len(ops))
	}
	tail := ops[len(ops)-2:]
	if tail[0][0] != regCtrl1XL || tail[1][0] != regCtrl2G {
		t.Errorf("last transactions = %x, want the two CTRL power-down writes", tail)
	}

	// A poll started after power-down does not touch the bus.
	d.Poll(context.Background(), time.Millisecond, nil)
	if got := len(rc.snapshot()); got != len(ops) {
		t.Errorf("Poll after PowerDown issued %d transactions", got-len(ops))
	}
}
