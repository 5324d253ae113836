package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/models"
	"github.com/dzpline/whisper-client/internal/probe"
)

// whisperBackend runs whisper.cpp locally via the Go bindings. The model
// is loaded once in the constructor; each Transcribe call decodes on a
// fresh whisper context.
type whisperBackend struct {
	model    whisper.Model
	language string
	threads  uint
	log      *slog.Logger
}

// newWhisperBackend loads the ggml model from cfg.ModelPath, or resolves
// cfg.Model against the local model directory. Load failures are returned
// here, never during transcription.
func newWhisperBackend(cfg *config.EngineConfig, capability probe.Capability, log *slog.Logger) (*whisperBackend, error) {
	path := cfg.ModelPath
	if path == "" {
		p, err := models.Path(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve model %q: %w", cfg.Model, err)
		}
		path = p
	}

	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("engine: load whisper model %q: %w", path, err)
	}

	threads := cpuThreads(capability, cfg.ForceCPU)
	log.Info("whisper model loaded",
		slog.String("path", path),
		slog.Bool("accelerated", threads == 0),
		slog.Uint64("threads", uint64(threads)))

	return &whisperBackend{
		model:    model,
		language: cfg.Language,
		threads:  threads,
		log:      log,
	}, nil
}

// cpuThreads returns the decode thread count for the CPU path, or 0 when
// the accelerated default placement should be kept.
func cpuThreads(capability probe.Capability, forceCPU bool) uint {
	if forceCPU || !capability.Accelerator {
		return uint(runtime.NumCPU())
	}
	return 0
}

func (b *whisperBackend) Transcribe(ctx context.Context, samples []float32) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// whisper.cpp rejects clips shorter than one second.
	if len(samples) < whisper.SampleRate {
		padded := make([]float32, whisper.SampleRate)
		copy(padded, samples)
		samples = padded
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("engine: create whisper context: %w", err)
	}

	if b.language != "" {
		if err := wctx.SetLanguage(b.language); err != nil {
			return nil, fmt.Errorf("engine: set language %q: %w", b.language, err)
		}
	}
	if b.threads > 0 {
		wctx.SetThreads(b.threads)
	}
	wctx.SetTranslate(false)
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("engine: whisper process: %w", err)
	}

	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("engine: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:       text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: tokenConfidence(seg.Tokens),
		})
	}
	return segments, nil
}

// Close releases the whisper model resources.
func (b *whisperBackend) Close() error {
	if b.model != nil {
		err := b.model.Close()
		b.model = nil
		return err
	}
	return nil
}

// tokenConfidence averages token probabilities into a [0,1] confidence.
func tokenConfidence(tokens []whisper.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tokens {
		sum += float64(t.P)
	}
	c := sum / float64(len(tokens))
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}
