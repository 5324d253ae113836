// Command test-capture is a manual test for microphone capture.
// It lists the capture devices, records a few seconds from one, and
// reports the frames it saw. Pass --out to keep the audio as a WAV.
//
// Usage:
//
//	go run ./cmd/test-capture [--device -1] [--seconds 3] [--out capture.wav]
//	go run ./cmd/test-capture --list
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dzpline/whisper-client/internal/audio"
	"github.com/dzpline/whisper-client/internal/metrics"
)

const sampleRate = 16000

func main() {
	device := flag.Int("device", -1, "capture device index (-1 for system default)")
	seconds := flag.Int("seconds", 3, "how long to record")
	out := flag.String("out", "", "write the captured audio to this WAV file")
	list := flag.Bool("list", false, "list capture devices and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	c, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: sampleRate,
		Channels:   1,
		FrameSize:  1024,
		QueueSize:  32,
	}, metrics.New(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	devices, err := c.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Capture devices:")
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("  %s [%d] %s\n", marker, d.ID, d.Name)
	}
	if *list {
		return
	}

	fmt.Printf("\nRecording %ds from device %d...\n", *seconds, *device)
	frames, err := c.Start(*device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	go func() {
		time.Sleep(time.Duration(*seconds) * time.Second)
		c.Stop()
	}()

	var samples []float32
	count := 0
	for f := range frames {
		count++
		samples = append(samples, f.Samples...)
	}

	fmt.Printf("Captured %d frames (%d samples, %.1fs), dropped %d\n",
		count, len(samples), float64(len(samples))/sampleRate, c.Dropped())

	if *out != "" {
		if err := audio.WriteWAV(*out, samples, sampleRate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *out)
	}
}
