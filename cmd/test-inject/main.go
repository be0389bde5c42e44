// Command test-inject is a manual test for the desktop report replay.
// It waits 3 seconds, then types a word by feeding keyboard reports to
// the desktop stack. Focus a text editor before the countdown finishes.
//
// Usage:
//
//	go run ./cmd/test-inject [--text hello]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/blekbd/internal/inject"
	"github.com/chaz8081/blekbd/internal/keyboard"
	"github.com/chaz8081/blekbd/internal/link"
)

func main() {
	text := flag.String("text", "hello", "word to type (letters, digits, space)")
	flag.Parse()

	var codes []uint8
	for _, r := range *text {
		name := string(r)
		if r == ' ' {
			name = "space"
		}
		code, ok := keyboard.Lookup(name)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: no key for %q\n", r)
			os.Exit(1)
		}
		codes = append(codes, code)
	}

	up := make(chan struct{}, 1)
	stack := inject.NewDesktopStack(func(ev link.Event) {
		if ev.Kind == link.EventUp {
			up <- struct{}{}
		}
	}, nil)

	fmt.Printf("Will type %q in 3 seconds...\n", *text)
	fmt.Println("Focus a text editor now!")
	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	if err := stack.StartAdvertising(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	<-up
	if err := stack.NotifyLinkUp(inject.DesktopHandle); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	var kb keyboard.State
	send := func() error {
		r := kb.Report()
		return stack.SendReport(inject.DesktopHandle, link.ModeReport, r[:])
	}
	for _, code := range codes {
		if err := kb.Press(code); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if err := send(); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		kb.Release(code)
		if err := send(); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	fmt.Println("\nDone!")
}
