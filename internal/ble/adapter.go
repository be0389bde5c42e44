// Package ble exposes the keyboard as a HID-over-GATT peripheral with a
// Battery service. It converts stack callbacks into link events and
// implements link.Stack on top of tinygo.org/x/bluetooth.
package ble

// Bluetooth SIG assigned numbers used by the GATT database.
const (
	uuidBatteryService     = 0x180F
	uuidHIDService         = 0x1812
	uuidBatteryLevel       = 0x2A19
	uuidBootKeyboardInput  = 0x2A22
	uuidBootKeyboardOutput = 0x2A32
	uuidHIDInformation     = 0x2A4A
	uuidReportMap          = 0x2A4B
	uuidHIDControlPoint    = 0x2A4C
	uuidReport             = 0x2A4D
	uuidProtocolMode       = 0x2A4E
)

// hidInformation is bcdHID 1.11, country code 0, flags RemoteWake and
// NormallyConnectable.
var hidInformation = []byte{0x11, 0x01, 0x00, 0x03}

// Protocol Mode characteristic values.
const (
	protocolModeBoot   = 0x00
	protocolModeReport = 0x01
)

// Notifier pushes a new characteristic value to subscribed centrals.
type Notifier interface {
	Write(p []byte) (n int, err error)
}

// Advertiser starts and stops connectable advertising.
type Advertiser interface {
	Start() error
	Stop() error
}
