package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/blekbd/internal/app"
	"github.com/chaz8081/blekbd/internal/ble"
	"github.com/chaz8081/blekbd/internal/config"
	"github.com/chaz8081/blekbd/internal/inject"
	"github.com/chaz8081/blekbd/internal/input"
	"github.com/chaz8081/blekbd/internal/keyboard"
	"github.com/chaz8081/blekbd/internal/link"
	"github.com/chaz8081/blekbd/internal/logging"
	"github.com/chaz8081/blekbd/internal/power"
	"github.com/chaz8081/blekbd/internal/sensor"
	"github.com/chaz8081/blekbd/internal/status"
)

// RunCmd starts the keyboard.
type RunCmd struct{}

func (r *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logger, _, err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	printBanner(cfg)

	wake, err := power.ReadAndClearWakeLatch(cfg.Wake.LatchPath)
	if err != nil {
		logger.Warn("[POWER] wake latch unreadable", "error", err)
	}
	logger.Info("[POWER] boot", "wake", wake)

	keys := make([]uint8, len(cfg.Buttons))
	for i, b := range cfg.Buttons {
		keys[i], _ = keyboard.Lookup(b.Key)
	}
	wakeKey, _ := keyboard.Lookup(cfg.Wake.Key)

	queue := input.NewQueue(cfg.Input.QueueDepth)
	src, err := input.Open(input.Options{
		Backend:   cfg.Input.Backend,
		Chip:      cfg.Input.Chip,
		Device:    cfg.Input.Device,
		ActiveLow: cfg.Input.ActiveLow,
		Lines:     cfg.ButtonPins(),
	}, logger)
	if err != nil {
		return err
	}
	defer src.Close()
	debouncer := input.NewDebouncer(src, queue, cfg.Debounce())
	defer debouncer.Stop()

	// Stack callbacks can fire as soon as the stack starts; the dispatcher
	// exists by then.
	var d *app.Dispatcher
	post := func(ev link.Event) { d.PostLinkEvent(ev) }

	var stack link.Stack
	var peripheral *ble.Peripheral
	switch cfg.BLE.Transport {
	case "desktop":
		stack = inject.NewDesktopStack(post, logger)
	case "uinput":
		vk, err := inject.NewUinputStack(cfg.BLE.UinputPath, cfg.DeviceName, post, logger)
		if err != nil {
			return err
		}
		defer vk.Close()
		stack = vk
	default:
		peripheral = ble.NewPeripheral(cfg.DeviceName, post, logger)
		stack = peripheral
	}
	mgr := link.NewManager(link.NewRegistry(cfg.BLE.MaxConnections), stack, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var peripherals []power.Peripheral
	if cfg.IMU.Enabled {
		imu, err := openIMU(ctx, cfg, logger)
		if err != nil {
			logger.Error("[IMU] unavailable, continuing without it", "error", err)
		} else {
			defer imu.Close()
			peripherals = append(peripherals, imu)
		}
	}

	seq := &power.Sequence{
		Peripherals: peripherals,
		Links:       mgr,
		Off:         powerOff(cfg, logger),
		Grace:       cfg.TeardownGrace(),
		Log:         logger,
	}
	d = app.New(queue, mgr, seq, app.Options{
		Keys:        keys,
		IdleTimeout: cfg.IdleTimeout(),
		WakeCause:   wake,
		WakeKey:     wakeKey,
		Logger:      logger,
	})

	if peripheral != nil {
		if err := peripheral.Start(); err != nil {
			return err
		}
	}
	if err := src.Start(ctx, debouncer.Signal); err != nil {
		return err
	}

	if cfg.Status.LEDPin != "" {
		pin, err := status.OpenLED(cfg.Status.LEDPin)
		if err != nil {
			logger.Warn("[STATUS] LED unavailable", "error", err)
		} else {
			go status.NewBlinker(pin, mgr.Advertising, logger).Run(ctx)
		}
	}
	if peripheral != nil && cfg.BLE.BatteryPath != "" {
		batt := &status.Battery{Path: cfg.BLE.BatteryPath, Set: peripheral.SetBatteryLevel, Log: logger}
		go batt.Run(ctx)
	}

	err = d.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("Shutting down")
		return nil
	case errors.Is(err, power.ErrPoweredOff):
		logger.Warn("[POWER] power-off returned, exiting", "error", err)
		return nil
	default:
		return err
	}
}

func openIMU(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sensor.LSM6DSO, error) {
	imu, err := sensor.Open(cfg.IMU.Bus, cfg.IMU.Address, logger)
	if err != nil {
		return nil, err
	}
	if err := imu.Init(); err != nil {
		imu.Close()
		return nil, err
	}
	if cfg.IMU.PollMS > 0 {
		go imu.Poll(ctx, time.Duration(cfg.IMU.PollMS)*time.Millisecond, nil)
	}
	return imu, nil
}

func powerOff(cfg *config.Config, logger *slog.Logger) power.PowerOff {
	switch cfg.Power.Method {
	case "command":
		return power.CommandPowerOff{Args: cfg.Power.Command}
	case "none":
		return power.PowerOffFunc(func() error {
			logger.Warn("[POWER] power-off disabled by config")
			return nil
		})
	default:
		return power.SystemPowerOff{}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blekbd ===")
	fmt.Printf("  Name:      %s\n", cfg.DeviceName)
	fmt.Printf("  Transport: %s (max %d links)\n", cfg.BLE.Transport, cfg.BLE.MaxConnections)
	fmt.Printf("  Input:     %s, %d buttons, %dms debounce\n", cfg.Input.Backend, len(cfg.Buttons), cfg.Input.DebounceMS)
	fmt.Printf("  Idle:      %s (grace %s)\n", cfg.IdleTimeout(), cfg.TeardownGrace())
	fmt.Printf("  Power-off: %s\n", cfg.Power.Method)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("==============")
}
