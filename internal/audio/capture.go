// Package audio provides microphone enumeration and frame-based capture
// on top of miniaudio.
package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/dzpline/whisper-client/internal/metrics"
)

// Frame is a chunk of captured mono audio. Offset is the position of the
// frame's first sample on the capture timeline, derived from the running
// sample count, so it is monotonic by construction. Frames carry FrameSize
// samples except for the final frame of a session, which may be shorter.
type Frame struct {
	Seq     uint64
	Samples []float32
	Offset  time.Duration
}

// Duration returns the frame length on the capture timeline.
func (f Frame) Duration(sampleRate uint32) time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}

// CaptureConfig holds the capture parameters.
type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// FrameSize is the number of mono samples per emitted Frame.
	FrameSize uint32
	// QueueSize is how many frames may sit unconsumed before the oldest
	// is dropped.
	QueueSize int
}

// Capture streams microphone audio as Frames over a bounded queue.
// A Capture runs at most one session: Start once, Stop once.
type Capture struct {
	ctx *malgo.AllocatedContext
	cfg CaptureConfig
	m   *metrics.Metrics
	log *slog.Logger

	mu      sync.Mutex
	device  *malgo.Device
	queue   *frameQueue
	started bool
	stopped bool

	// Audio-thread state. Touched only by onData while the device runs;
	// Stop may read it after the device is uninitialized.
	pending  []float32
	seq      uint64
	produced uint64
}

// NewCapture creates a capture backed by its own miniaudio context.
// Call Close when done.
func NewCapture(cfg CaptureConfig, m *metrics.Metrics, log *slog.Logger) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	if m == nil {
		m = metrics.New()
	}

	return &Capture{
		ctx: ctx,
		cfg: cfg,
		m:   m,
		log: log.With(slog.String("component", "audio")),
	}, nil
}

// Devices enumerates the capture devices visible to this context.
func (c *Capture) Devices() ([]Device, error) {
	return devicesFromContext(c.ctx)
}

// Start opens the capture device with the given index (-1 for the system
// default) and begins streaming frames on the returned channel. The
// channel is closed by Stop. A Capture cannot be restarted after Stop.
func (c *Capture) Start(deviceID int) (<-chan Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, ErrAlreadyStarted
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = c.cfg.Channels
	deviceCfg.SampleRate = c.cfg.SampleRate
	deviceCfg.PeriodSizeInFrames = c.cfg.FrameSize

	if deviceID >= 0 {
		infos, err := c.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("enumerating capture devices: %w", err)
		}
		if deviceID >= len(infos) {
			return nil, fmt.Errorf("%w: index %d, have %d devices", ErrDeviceNotFound, deviceID, len(infos))
		}
		deviceCfg.Capture.DeviceID = infos[deviceID].ID.Pointer()
	}

	c.queue = newFrameQueue(c.cfg.QueueSize, c.m.FramesDropped.Inc)

	device, err := malgo.InitDevice(c.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: c.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	}

	c.device = device
	c.started = true
	c.log.Debug("capture started",
		slog.Int("device", deviceID),
		slog.Int("queue_size", c.cfg.QueueSize))

	return c.queue.frames(), nil
}

// Stop releases the capture device and closes the frame channel. The
// trailing samples that did not fill a whole frame are flushed as a
// final short frame. Stop is idempotent; the device is released exactly
// once.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Capture) stopLocked() {
	if !c.started || c.stopped {
		return
	}

	// Uninit stops the audio thread before returning, so reading the
	// pending buffer afterwards is race free.
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	if len(c.pending) > 0 {
		tail := make([]float32, len(c.pending))
		copy(tail, c.pending)
		c.pending = c.pending[:0]
		c.emit(tail)
	}

	c.queue.close()
	c.stopped = true
	c.log.Debug("capture stopped",
		slog.Uint64("frames", c.seq),
		slog.Uint64("dropped", c.queue.droppedCount()))
}

// Dropped returns how many frames were evicted under backpressure. The
// counter is monotonic for the lifetime of the Capture.
func (c *Capture) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		return 0
	}
	return c.queue.droppedCount()
}

// Close stops the capture if needed and releases the miniaudio context.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.started && !c.stopped {
		c.stopLocked()
	}
	c.mu.Unlock()

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

// onData is the malgo callback invoked on the audio thread when samples
// arrive. It rebuffers the incoming data into FrameSize frames and must
// never block.
func (c *Capture) onData(_, pSample []byte, frameCount uint32) {
	samples := bytesToFloat32(pSample, frameCount*c.cfg.Channels)
	if c.cfg.Channels > 1 {
		samples = downmixMono(samples, int(c.cfg.Channels))
	}

	c.pending = append(c.pending, samples...)
	for uint32(len(c.pending)) >= c.cfg.FrameSize {
		frame := make([]float32, c.cfg.FrameSize)
		copy(frame, c.pending)
		n := copy(c.pending, c.pending[c.cfg.FrameSize:])
		c.pending = c.pending[:n]
		c.emit(frame)
	}
}

// emit assigns the frame its sequence number and timeline offset and
// pushes it onto the queue.
func (c *Capture) emit(samples []float32) {
	f := Frame{
		Seq:     c.seq,
		Samples: samples,
		Offset:  time.Duration(c.produced) * time.Second / time.Duration(c.cfg.SampleRate),
	}
	c.seq++
	c.produced += uint64(len(samples))
	c.m.FramesCaptured.Inc()
	c.queue.push(f)
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// downmixMono averages interleaved multi-channel samples into mono.
func downmixMono(samples []float32, channels int) []float32 {
	mono := make([]float32, 0, len(samples)/channels)
	for i := 0; i+channels <= len(samples); i += channels {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i+ch]
		}
		mono = append(mono, sum/float32(channels))
	}
	return mono
}
