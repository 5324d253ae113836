// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Shift+R to see events.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/hotkey"
)

func main() {
	mode := flag.String("mode", "hold", "hotkey mode: hold or toggle")
	flag.Parse()

	cfg := config.HotkeyConfig{
		Enabled: true,
		Keys:    []string{"ctrl", "shift", "r"},
		Mode:    *mode,
	}
	fmt.Printf("Listening for Ctrl+Shift+R in %q mode...\n", *mode)
	fmt.Println("Press Ctrl+C to exit.")

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	listener := hotkey.New(cfg, log)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventStart:
				fmt.Println(">>> START (recording)")
			case hotkey.EventStop:
				fmt.Println("<<< STOP  (stopped)")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Run()
	fmt.Println("Done.")
}
