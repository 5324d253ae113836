// Package session wires capture, transcription, and delivery into one
// recording session. A Session owns its source and engine exclusively
// and runs at most once: Start, then Stop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dzpline/whisper-client/internal/audio"
	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/engine"
)

// ErrAlreadyStarted is returned by Start on a session that already ran.
var ErrAlreadyStarted = errors.New("session: already started")

// Source produces the frames a session transcribes. *audio.Capture
// implements it. A successful session Start transfers ownership: Stop
// releases the source. On a failed Start the caller still owns it.
type Source interface {
	Start(deviceID int) (<-chan audio.Frame, error)
	Stop()
	Dropped() uint64
	Close() error
}

// Sink receives transcript events in emission order. Consume runs on
// the session's delivery goroutine; an error is logged and the session
// moves on to the next event.
type Sink interface {
	Consume(ctx context.Context, sessionID string, t engine.Transcript) error
}

// Session pumps frames from a Source into an Engine and fans the
// resulting transcripts out to its sinks.
type Session struct {
	id    string
	src   Source
	eng   *engine.Engine
	sinks []Sink
	log   *slog.Logger

	device          int
	sampleRate      uint32
	dumpDir         string
	shutdownTimeout time.Duration

	mu      sync.Mutex
	started bool

	pumpDone chan struct{}
	fanDone  chan struct{}

	// dump accumulates raw capture audio on the pump goroutine; Stop
	// reads it only after pumpDone is closed.
	dump []float32

	stopOnce sync.Once
	stopErr  error
}

// New creates a session over the given source and engine. The source
// and engine must be fresh; the session drives their lifecycle.
func New(cfg *config.Config, src Source, eng *engine.Engine, sinks []Sink, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:              id,
		src:             src,
		eng:             eng,
		sinks:           sinks,
		log:             log.With(slog.String("component", "session"), slog.String("session_id", id)),
		device:          cfg.Audio.Device,
		sampleRate:      cfg.Audio.SampleRate,
		dumpDir:         cfg.Audio.DumpDir,
		shutdownTimeout: time.Duration(cfg.Session.ShutdownTimeoutMS) * time.Millisecond,
		pumpDone:        make(chan struct{}),
		fanDone:         make(chan struct{}),
	}
}

// ID returns the session's UUID.
func (s *Session) ID() string {
	return s.id
}

// Start begins streaming: the engine's inference worker is spawned,
// the capture device is opened, and the pump and delivery goroutines
// are launched. ctx governs the inference worker; cancel it only to
// abort, use Stop for a clean flush. Errors from the engine or the
// device surface immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.eng.Start(ctx); err != nil {
		return err
	}

	frames, err := s.src.Start(s.device)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if stopErr := s.eng.Stop(stopCtx); stopErr != nil {
			s.log.Warn("engine stop after failed capture start", slog.String("error", stopErr.Error()))
		}
		return err
	}

	s.started = true
	go s.pump(frames)
	go s.fanout(ctx)

	s.log.Info("session started", slog.Int("device", s.device))
	return nil
}

// pump drains the frame channel in order into the engine. It exits
// when the source closes the channel.
func (s *Session) pump(frames <-chan audio.Frame) {
	defer close(s.pumpDone)
	for f := range frames {
		if s.dumpDir != "" {
			s.dump = append(s.dump, f.Samples...)
		}
		if err := s.eng.Submit(f); err != nil {
			s.log.Debug("frame discarded",
				slog.Uint64("seq", f.Seq),
				slog.String("error", err.Error()))
		}
	}
}

// fanout delivers each transcript to every sink, in order. It exits
// when the engine closes its results channel.
func (s *Session) fanout(ctx context.Context) {
	defer close(s.fanDone)
	for t := range s.eng.Results() {
		for _, sink := range s.sinks {
			if err := sink.Consume(ctx, s.id, t); err != nil {
				s.log.Warn("transcript sink failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop shuts the session down: the device is released, buffered frames
// are drained into the engine, the trailing window is flushed, and the
// remaining transcripts are delivered. Stop is idempotent; repeated
// calls return the first result. The engine shutdown is bounded by ctx
// and the configured shutdown timeout.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}

		s.src.Stop()
		<-s.pumpDone

		if s.shutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
			defer cancel()
		}
		s.stopErr = s.eng.Stop(ctx)
		<-s.fanDone

		s.writeDump()
		dropped := s.src.Dropped()
		if err := s.src.Close(); err != nil {
			s.log.Warn("closing capture", slog.String("error", err.Error()))
		}
		s.log.Info("session stopped", slog.Uint64("dropped_frames", dropped))
	})
	return s.stopErr
}

// writeDump writes the session's raw audio to <dump_dir>/<id>.wav.
func (s *Session) writeDump() {
	if s.dumpDir == "" || len(s.dump) == 0 {
		return
	}
	if err := os.MkdirAll(s.dumpDir, 0755); err != nil {
		s.log.Warn("audio dump failed", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(s.dumpDir, s.id+".wav")
	if err := audio.WriteWAV(path, s.dump, int(s.sampleRate)); err != nil {
		s.log.Warn("audio dump failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	s.log.Info("session audio written",
		slog.String("path", path),
		slog.Int("samples", len(s.dump)))
}
