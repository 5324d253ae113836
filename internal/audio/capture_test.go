package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/dzpline/whisper-client/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() CaptureConfig {
	return CaptureConfig{SampleRate: 16000, Channels: 1, FrameSize: 1024, QueueSize: 8}
}

// newTestCapture creates a hardware-backed Capture, skipping the test on
// machines without an audio backend.
func newTestCapture(t *testing.T) *Capture {
	t.Helper()
	c, err := NewCapture(testConfig(), nil, testLogger())
	if err != nil {
		t.Skipf("no audio backend available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// encodeF32 packs samples as the little-endian float32 bytes malgo hands
// to the data callback.
func encodeF32(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func TestNewCaptureAndClose(t *testing.T) {
	c := newTestCapture(t)

	if c.cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", c.cfg.SampleRate)
	}
	if c.cfg.FrameSize != 1024 {
		t.Errorf("FrameSize = %d, want 1024", c.cfg.FrameSize)
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := newTestCapture(t)

	c.Stop()
	c.Stop()

	if got := c.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestStartUnknownDevice(t *testing.T) {
	c := newTestCapture(t)

	devices, err := c.Devices()
	if err != nil {
		t.Skipf("cannot enumerate devices: %v", err)
	}

	_, err = c.Start(len(devices) + 100)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Start() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestStartTwice(t *testing.T) {
	c := newTestCapture(t)

	_, err := c.Start(-1)
	if err != nil {
		t.Skipf("cannot open default capture device: %v", err)
	}
	defer c.Stop()

	_, err = c.Start(-1)
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	c := newTestCapture(t)

	frames, err := c.Start(-1)
	if err != nil {
		t.Skipf("cannot open default capture device: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	c.Stop()
	c.Stop()

	// The frame channel must be closed; draining must terminate.
	for range frames {
	}
}

func TestOnDataRebuffersToFrameSize(t *testing.T) {
	c := &Capture{
		cfg:   testConfig(),
		m:     metrics.New(),
		log:   testLogger(),
		queue: newFrameQueue(16, nil),
	}

	// 2.5 frames worth of samples delivered in two callbacks.
	c.onData(nil, encodeF32(make([]float32, 1536)), 1536)
	c.onData(nil, encodeF32(make([]float32, 1024)), 1024)

	if got := len(c.queue.ch); got != 2 {
		t.Fatalf("emitted %d frames, want 2", got)
	}

	f0 := <-c.queue.ch
	f1 := <-c.queue.ch

	if len(f0.Samples) != 1024 || len(f1.Samples) != 1024 {
		t.Errorf("frame sizes = %d, %d, want 1024 each", len(f0.Samples), len(f1.Samples))
	}
	if f0.Seq != 0 || f1.Seq != 1 {
		t.Errorf("frame seqs = %d, %d, want 0, 1", f0.Seq, f1.Seq)
	}
	if f0.Offset != 0 {
		t.Errorf("first frame Offset = %v, want 0", f0.Offset)
	}
	want := time.Duration(1024) * time.Second / 16000
	if f1.Offset != want {
		t.Errorf("second frame Offset = %v, want %v", f1.Offset, want)
	}
	// 512 samples must still be pending.
	if len(c.pending) != 512 {
		t.Errorf("pending = %d samples, want 512", len(c.pending))
	}
}

func TestStopFlushesPendingTail(t *testing.T) {
	c := &Capture{
		cfg:     testConfig(),
		m:       metrics.New(),
		log:     testLogger(),
		queue:   newFrameQueue(16, nil),
		started: true,
	}

	c.onData(nil, encodeF32(make([]float32, 1536)), 1536)
	c.Stop()

	var frames []Frame
	for f := range c.queue.frames() {
		frames = append(frames, f)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames after Stop, want 2 (full + tail)", len(frames))
	}
	if len(frames[1].Samples) != 512 {
		t.Errorf("tail frame has %d samples, want 512", len(frames[1].Samples))
	}
	if frames[1].Seq != 1 {
		t.Errorf("tail frame Seq = %d, want 1", frames[1].Seq)
	}
	want := time.Duration(1024) * time.Second / 16000
	if frames[1].Offset != want {
		t.Errorf("tail frame Offset = %v, want %v", frames[1].Offset, want)
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]float32, 16000)}
	if got := f.Duration(16000); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}

	f = Frame{Samples: make([]float32, 1024)}
	want := time.Duration(1024) * time.Second / 16000
	if got := f.Duration(16000); got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
}

func TestBytesToFloat32(t *testing.T) {
	// Test with known float32 value: 1.0 = 0x3F800000
	data := []byte{0x00, 0x00, 0x80, 0x3F} // 1.0 in little-endian float32
	samples := bytesToFloat32(data, 1)

	if len(samples) != 1 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
	if samples[0] != 1.0 {
		t.Errorf("bytesToFloat32() = %f, want 1.0", samples[0])
	}
}

func TestBytesToFloat32Multiple(t *testing.T) {
	// Two samples: 0.0 and -1.0
	// 0.0 = 0x00000000, -1.0 = 0xBF800000
	data := []byte{
		0x00, 0x00, 0x00, 0x00, // 0.0
		0x00, 0x00, 0x80, 0xBF, // -1.0
	}
	samples := bytesToFloat32(data, 2)

	if len(samples) != 2 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 2", len(samples))
	}
	if samples[0] != 0.0 {
		t.Errorf("samples[0] = %f, want 0.0", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("samples[1] = %f, want -1.0", samples[1])
	}
}

func TestBytesToFloat32Truncated(t *testing.T) {
	// A trailing partial sample is ignored.
	data := []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00}
	samples := bytesToFloat32(data, 2)

	if len(samples) != 1 {
		t.Errorf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
}

func TestDownmixMono(t *testing.T) {
	in := []float32{1, 0, 0.5, -0.5, -1, -1}
	got := downmixMono(in, 2)

	want := []float32{0.5, 0, -1}
	if len(got) != len(want) {
		t.Fatalf("downmixMono returned %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mono[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}
