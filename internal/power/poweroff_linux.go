//go:build linux

package power

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func systemPowerOff() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		return fmt.Errorf("power: reboot(POWER_OFF): %w", err)
	}
	return nil
}
