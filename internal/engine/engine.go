// Package engine turns captured audio frames into transcript events.
// Frames are accumulated into fixed-duration windows, windows are
// transcribed strictly in order by a single inference worker, and the
// resulting events carry non-overlapping, non-decreasing timestamps on
// the capture timeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzpline/whisper-client/internal/audio"
	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/metrics"
	"github.com/dzpline/whisper-client/internal/probe"
)

// ErrNotRunning is returned by Submit when the engine is not in the
// Running state.
var ErrNotRunning = errors.New("engine: not running")

// State is the engine lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transcript is one recognized span of speech. Start and End are offsets
// on the capture timeline. Confidence is in [0,1].
type Transcript struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// window is a batch of samples handed to the inference worker. base is
// the capture-timeline offset of the first sample.
type window struct {
	base    time.Duration
	samples []float32
}

// Engine drives a transcription backend over windowed audio.
//
// Lifecycle: New returns a Ready engine with the backend loaded (a load
// failure surfaces here, never later). Start moves it to Running, Submit
// feeds it frames, Results streams transcripts, Stop flushes the trailing
// window and closes Results. An engine runs at most one session.
type Engine struct {
	backend    Backend
	m          *metrics.Metrics
	log        *slog.Logger
	sampleRate uint32

	windowSamples int
	silenceRMS    float64

	state  atomic.Int32
	cancel context.CancelFunc

	mu         sync.Mutex
	window     []float32
	windowBase time.Duration

	windows chan window
	results chan Transcript
	done    chan struct{}

	// lastEnd is the End of the most recent emitted transcript. Touched
	// only by the inference worker.
	lastEnd time.Duration

	stopOnce sync.Once
	stopErr  error
}

// New creates an engine with the backend named in cfg, loading the model
// immediately. capability selects the accelerated or CPU decode path for
// the whisper backend.
func New(cfg *config.EngineConfig, sampleRate uint32, capability probe.Capability, m *metrics.Metrics, log *slog.Logger) (*Engine, error) {
	b, err := NewBackend(cfg, sampleRate, capability, log.With(slog.String("component", "engine")))
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, sampleRate, b, m, log), nil
}

// NewWithBackend creates an engine around a caller-supplied backend.
func NewWithBackend(cfg *config.EngineConfig, sampleRate uint32, b Backend, m *metrics.Metrics, log *slog.Logger) *Engine {
	if m == nil {
		m = metrics.New()
	}

	e := &Engine{
		backend:       b,
		m:             m,
		log:           log.With(slog.String("component", "engine")),
		sampleRate:    sampleRate,
		windowSamples: int(sampleRate) * cfg.WindowMS / 1000,
		silenceRMS:    cfg.SilenceRMS,
		windows:       make(chan window, 4),
		results:       make(chan Transcript, 16),
		done:          make(chan struct{}),
	}
	e.state.Store(int32(StateReady))
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start spawns the inference worker and moves the engine to Running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		return fmt.Errorf("engine: start in state %s", e.State())
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.run(runCtx)
	return nil
}

// Submit appends a captured frame to the current window. When the window
// reaches the configured duration it is queued for inference; Submit may
// block briefly while the inference queue is full. Valid only in the
// Running state.
func (e *Engine) Submit(f audio.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateRunning {
		return ErrNotRunning
	}

	if len(e.window) == 0 {
		e.windowBase = f.Offset
	}
	e.window = append(e.window, f.Samples...)
	if len(e.window) >= e.windowSamples {
		e.flushLocked()
	}
	return nil
}

// Results returns the transcript stream for this session. The channel is
// closed once Stop has flushed the final window.
func (e *Engine) Results() <-chan Transcript {
	return e.results
}

// Stop flushes the trailing partial window, waits for in-flight inference
// to finish (aborting it when ctx expires), closes Results, and releases
// the backend. Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		prev := State(e.state.Swap(int32(StateStopped)))

		e.mu.Lock()
		if len(e.window) > 0 {
			e.flushLocked()
		}
		close(e.windows)
		cancel := e.cancel
		e.mu.Unlock()

		if prev == StateRunning {
			select {
			case <-e.done:
			case <-ctx.Done():
				cancel()
				<-e.done
				e.stopErr = fmt.Errorf("engine: stop aborted: %w", ctx.Err())
			}
			cancel()
		} else {
			close(e.results)
		}

		if err := e.backend.Close(); err != nil && e.stopErr == nil {
			e.stopErr = fmt.Errorf("engine: closing backend: %w", err)
		}
		e.log.Debug("engine stopped", slog.String("from", prev.String()))
	})
	return e.stopErr
}

// flushLocked hands the accumulated window to the inference worker.
// Callers hold e.mu.
func (e *Engine) flushLocked() {
	w := window{base: e.windowBase, samples: e.window}
	e.window = nil
	e.windows <- w
}

// run is the inference worker. Windows arrive strictly in submit order
// and are processed one at a time, so emitted transcripts keep the
// timeline ordering.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer close(e.results)

	for w := range e.windows {
		if ctx.Err() != nil {
			continue
		}
		e.process(ctx, w)
	}
}

func (e *Engine) process(ctx context.Context, w window) {
	if r := rms(w.samples); r < e.silenceRMS {
		e.m.WindowsSkipped.Inc()
		e.log.Debug("window skipped",
			slog.Float64("rms", r),
			slog.Duration("base", w.base))
		return
	}

	start := time.Now()
	segs, err := e.backend.Transcribe(ctx, w.samples)
	e.m.InferenceTime.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.m.InferenceErrors.Inc()
		e.log.Warn("inference failed",
			slog.Duration("base", w.base),
			slog.String("error", err.Error()))
		return
	}

	windowEnd := w.base + sampleDuration(len(w.samples), e.sampleRate)
	for _, s := range segs {
		t := Transcript{
			Text:       s.Text,
			Start:      w.base + s.Start,
			End:        w.base + s.End,
			Confidence: s.Confidence,
		}
		// Clamp to the window and to the previous event so ranges stay
		// non-overlapping and non-decreasing whatever the backend said.
		if t.End > windowEnd {
			t.End = windowEnd
		}
		if t.Start < e.lastEnd {
			t.Start = e.lastEnd
		}
		if t.End < t.Start {
			t.End = t.Start
		}
		e.lastEnd = t.End

		select {
		case e.results <- t:
			e.m.Transcripts.Inc()
		case <-ctx.Done():
			return
		}
	}
}

// rms is the root mean square amplitude of the samples.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func sampleDuration(n int, rate uint32) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(rate)
}
