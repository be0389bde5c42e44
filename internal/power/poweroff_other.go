//go:build !linux

package power

func systemPowerOff() error { return ErrUnsupported }
