// Command blekbd turns a Linux board with a few buttons into a Bluetooth
// LE keyboard that powers itself off when left idle.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/blekbd/internal/config"
	"github.com/chaz8081/blekbd/internal/keyboard"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Path to config file (default: ~/.config/blekbd/config.yaml)." type:"path" placeholder:"PATH"`
	LogLevel string `help:"Override log_level from the config file (debug, info, warn, error)."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Run  RunCmd    `cmd:"" default:"1" help:"Run the keyboard (default)."`
	Keys KeysCmd   `cmd:"" help:"List key names accepted in the config."`
	Cfg  ConfigCmd `cmd:"" name:"config" help:"Manage the config file."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("blekbd"),
		kong.Description("BLE HID keyboard with idle power-off"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// KeysCmd prints the key name table.
type KeysCmd struct{}

func (k *KeysCmd) Run() error {
	names := keyboard.Names()
	sort.Strings(names)
	for _, n := range names {
		code, _ := keyboard.Lookup(n)
		fmt.Printf("%-12s 0x%02X\n", n, code)
	}
	return nil
}

// ConfigCmd groups config subcommands.
type ConfigCmd struct {
	Init ConfigInit `cmd:"" help:"Write the default config file if none exists."`
}

// ConfigInit writes the default config.
type ConfigInit struct{}

func (c *ConfigInit) Run() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
