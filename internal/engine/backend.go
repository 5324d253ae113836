package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/probe"
)

// Segment is one span of recognized speech produced by a backend.
// Start and End are offsets into the samples handed to Transcribe.
type Segment struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Backend converts audio samples to transcript segments.
type Backend interface {
	// Transcribe recognizes speech in mono 16kHz float32 audio samples.
	Transcribe(ctx context.Context, samples []float32) ([]Segment, error)
	// Close releases backend resources.
	Close() error
}

// NewBackend creates a Backend based on the config backend setting.
// Model load happens here; any failure surfaces immediately.
func NewBackend(cfg *config.EngineConfig, sampleRate uint32, capability probe.Capability, log *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "openai":
		return newOpenAIBackend(cfg, sampleRate, log)
	case "whisper", "":
		return newWhisperBackend(cfg, capability, log)
	default:
		return nil, fmt.Errorf("engine: unknown backend %q (supported: whisper, openai)", cfg.Backend)
	}
}
