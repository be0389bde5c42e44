package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blekbd/internal/keyboard"
)

// Config holds all application configuration.
type Config struct {
	DeviceName string         `yaml:"device_name"`
	Idle       IdleConfig     `yaml:"idle"`
	Input      InputConfig    `yaml:"input"`
	Buttons    []ButtonConfig `yaml:"buttons"`
	Wake       WakeConfig     `yaml:"wake"`
	BLE        BLEConfig      `yaml:"ble"`
	IMU        IMUConfig      `yaml:"imu"`
	Status     StatusConfig   `yaml:"status"`
	Power      PowerConfig    `yaml:"power"`
	LogLevel   string         `yaml:"log_level"`
	LogFormat  string         `yaml:"log_format"` // "text" or "json"
}

// IdleConfig holds the inactivity power-down settings.
type IdleConfig struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	TeardownGraceMS int `yaml:"teardown_grace_ms"`
}

// InputConfig selects where button edges come from.
type InputConfig struct {
	Backend    string `yaml:"backend"` // "gpiocdev", "periph", "evdev" or "hook"
	Chip       string `yaml:"chip"`
	Device     string `yaml:"device"`
	DebounceMS int    `yaml:"debounce_ms"`
	QueueDepth int    `yaml:"queue_depth"`
	ActiveLow  bool   `yaml:"active_low"`
}

// ButtonConfig binds one input line to one key. Pin is interpreted by the
// backend: a GPIO offset, a periph pin name, an evdev key code or a hook
// key name.
type ButtonConfig struct {
	Pin string `yaml:"pin"`
	Key string `yaml:"key"`
}

// WakeConfig controls replaying the key that woke the device.
type WakeConfig struct {
	LatchPath string `yaml:"latch_path"`
	Key       string `yaml:"key"`
}

// BLEConfig holds link settings.
type BLEConfig struct {
	MaxConnections int    `yaml:"max_connections"`
	Transport      string `yaml:"transport"` // "ble", "desktop" or "uinput"
	UinputPath     string `yaml:"uinput_path"`
	BatteryPath    string `yaml:"battery_path"`
}

// IMUConfig holds the optional LSM6DSO settings.
type IMUConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
	PollMS  int    `yaml:"poll_ms"`
}

// StatusConfig holds the advertising LED pin. Empty disables it.
type StatusConfig struct {
	LEDPin string `yaml:"led_pin"`
}

// PowerConfig selects how the device powers off.
type PowerConfig struct {
	Method  string   `yaml:"method"` // "syscall", "command" or "none"
	Command []string `yaml:"command"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blekbd")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName: "blekbd",
		Idle: IdleConfig{
			TimeoutSeconds:  30,
			TeardownGraceMS: 100,
		},
		Input: InputConfig{
			Backend:    "gpiocdev",
			Chip:       "gpiochip0",
			DebounceMS: 10,
			QueueDepth: 16,
			ActiveLow:  true,
		},
		Buttons: []ButtonConfig{
			{Pin: "17", Key: "h"},
		},
		Wake: WakeConfig{
			LatchPath: "/run/blekbd/wake",
			Key:       "h",
		},
		BLE: BLEConfig{
			MaxConnections: 2,
			Transport:      "ble",
			UinputPath:     "/dev/uinput",
		},
		IMU: IMUConfig{
			Address: 0x6A,
			PollMS:  1000,
		},
		Power: PowerConfig{
			Method:  "syscall",
			Command: []string{"systemctl", "poweroff"},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Wake.LatchPath = expandTilde(cfg.Wake.LatchPath)
	cfg.BLE.BatteryPath = expandTilde(cfg.BLE.BatteryPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	if c.Idle.TimeoutSeconds <= 0 {
		return fmt.Errorf("idle.timeout_seconds must be > 0")
	}
	if c.Idle.TeardownGraceMS < 0 {
		return fmt.Errorf("idle.teardown_grace_ms must be >= 0")
	}

	switch c.Input.Backend {
	case "gpiocdev", "periph", "evdev", "hook":
	default:
		return fmt.Errorf("input.backend must be gpiocdev, periph, evdev, or hook, got %q", c.Input.Backend)
	}
	if c.Input.Backend == "evdev" && c.Input.Device == "" {
		return fmt.Errorf("input.device is required for the evdev backend")
	}
	if c.Input.DebounceMS <= 0 {
		return fmt.Errorf("input.debounce_ms must be > 0")
	}
	if c.Input.QueueDepth <= 0 {
		return fmt.Errorf("input.queue_depth must be > 0")
	}

	if len(c.Buttons) == 0 {
		return fmt.Errorf("buttons must not be empty")
	}
	if len(c.Buttons) > 32 {
		return fmt.Errorf("at most 32 buttons are supported, got %d", len(c.Buttons))
	}
	for i, b := range c.Buttons {
		if b.Pin == "" {
			return fmt.Errorf("buttons[%d].pin must not be empty", i)
		}
		if _, ok := keyboard.Lookup(b.Key); !ok {
			return fmt.Errorf("buttons[%d].key: unknown key %q", i, b.Key)
		}
	}

	if c.Wake.Key != "" {
		if _, ok := keyboard.Lookup(c.Wake.Key); !ok {
			return fmt.Errorf("wake.key: unknown key %q", c.Wake.Key)
		}
	}

	if c.BLE.MaxConnections <= 0 {
		return fmt.Errorf("ble.max_connections must be > 0")
	}
	switch c.BLE.Transport {
	case "ble", "desktop", "uinput":
	default:
		return fmt.Errorf("ble.transport must be \"ble\", \"desktop\" or \"uinput\", got %q", c.BLE.Transport)
	}

	if c.IMU.Enabled && c.IMU.Address == 0 {
		return fmt.Errorf("imu.address must be set when imu.enabled is true")
	}

	switch c.Power.Method {
	case "syscall", "none":
	case "command":
		if len(c.Power.Command) == 0 {
			return fmt.Errorf("power.command is required when power.method is \"command\"")
		}
	default:
		return fmt.Errorf("power.method must be syscall, command, or none, got %q", c.Power.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// IdleTimeout returns the inactivity window.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Idle.TimeoutSeconds) * time.Second
}

// TeardownGrace returns the wait between requesting disconnects and
// powering off.
func (c *Config) TeardownGrace() time.Duration {
	return time.Duration(c.Idle.TeardownGraceMS) * time.Millisecond
}

// Debounce returns the input debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Input.DebounceMS) * time.Millisecond
}

// ButtonPins returns the configured pins in table order.
func (c *Config) ButtonPins() []string {
	pins := make([]string, len(c.Buttons))
	for i, b := range c.Buttons {
		pins[i] = b.Pin
	}
	return pins
}

// WriteDefault writes the default config to DefaultConfigPath. If the file
// already exists it is left alone and ("", nil) is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	content := "# blekbd configuration\n# Key names: run `blekbd keys`.\n\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
