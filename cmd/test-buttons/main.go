// Command test-buttons is a manual test for the button input path.
// It opens the configured backend, debounces edges and prints them.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-buttons [--backend hook] [--lines f9,f10]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/blekbd/internal/config"
	"github.com/chaz8081/blekbd/internal/input"
)

func main() {
	cfgPath := flag.String("config", "", "config file to take buttons from (default: ~/.config/blekbd/config.yaml)")
	backend := flag.String("backend", "", "override input backend: gpiocdev, periph, evdev or hook")
	lines := flag.String("lines", "", "comma-separated backend lines, overriding the config buttons")
	debounce := flag.Duration("debounce", 0, "override debounce window")
	flag.Parse()

	cfg := config.Default()
	path := *cfgPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	opts := input.Options{
		Backend:   cfg.Input.Backend,
		Chip:      cfg.Input.Chip,
		Device:    cfg.Input.Device,
		ActiveLow: cfg.Input.ActiveLow,
		Lines:     cfg.ButtonPins(),
	}
	if *backend != "" {
		opts.Backend = *backend
	}
	if *lines != "" {
		opts.Lines = strings.Split(*lines, ",")
	}
	window := cfg.Debounce()
	if *debounce > 0 {
		window = *debounce
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	src, err := input.Open(opts, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	queue := input.NewQueue(cfg.Input.QueueDepth)
	deb := input.NewDebouncer(src, queue, window)
	defer deb.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := src.Start(ctx, deb.Signal); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Listening on %s lines %v (debounce %s)...\n", opts.Backend, opts.Lines, window)
	fmt.Println("Press Ctrl+C to exit.")

	start := time.Now()
	for {
		e, err := queue.Pop(ctx)
		if errors.Is(err, context.Canceled) {
			fmt.Printf("\nShutting down... (%d edges dropped)\n", queue.Dropped())
			return
		}
		state := "UP  "
		if e.Down {
			state = "DOWN"
		}
		for pin, line := range opts.Lines {
			if e.Pins&(1<<pin) != 0 {
				fmt.Printf("%8s  %s  button %d (%s)\n", time.Since(start).Round(time.Millisecond), state, pin, line)
			}
		}
	}
}
