// Command test-probe is a manual test for accelerator detection.
// It runs the environment probe and prints what it found.
//
// Usage:
//
//	go run ./cmd/test-probe [--timeout-ms 3000]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dzpline/whisper-client/internal/probe"
)

func main() {
	timeoutMS := flag.Int("timeout-ms", 3000, "probe timeout in milliseconds")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	c := probe.Run(context.Background(),
		time.Duration(*timeoutMS)*time.Millisecond, log)

	if !c.Accelerator {
		fmt.Println("No accelerator detected; transcription will run on CPU.")
		return
	}
	fmt.Printf("Accelerator: %s\n", c.Kind)
	fmt.Printf("Device:      %s\n", c.Device)
	if c.RuntimeVersion != "" {
		fmt.Printf("Driver:      %s\n", c.RuntimeVersion)
	}
}
