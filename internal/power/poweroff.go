package power

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrUnsupported is returned by SystemPowerOff on platforms without a
// power-off syscall.
var ErrUnsupported = errors.New("power: power-off not supported on this platform")

// SystemPowerOff halts the machine with the reboot(2) power-off command.
// It needs CAP_SYS_BOOT.
type SystemPowerOff struct{}

func (SystemPowerOff) PowerOff() error { return systemPowerOff() }

// CommandPowerOff runs an external command such as "systemctl poweroff".
type CommandPowerOff struct {
	Args    []string
	Timeout time.Duration
}

func (c CommandPowerOff) PowerOff() error {
	if len(c.Args) == 0 {
		return fmt.Errorf("power: empty power-off command")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("power: %s: %w: %s", c.Args[0], err, out)
	}
	// The command usually returns before the kernel stops us.
	<-ctx.Done()
	return nil
}
