package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dzpline/whisper-client/internal/audio"
	"github.com/dzpline/whisper-client/internal/config"
)

// openaiBackend sends audio windows to the hosted Whisper API. Each call
// encodes the window as a temporary WAV file and requests verbose JSON so
// segment timestamps and log probabilities come back.
type openaiBackend struct {
	client     *openai.Client
	language   string
	sampleRate int
	log        *slog.Logger
}

func newOpenAIBackend(cfg *config.EngineConfig, sampleRate uint32, log *slog.Logger) (*openaiBackend, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("engine: openai backend: %s environment variable is not set", keyEnv)
	}

	return &openaiBackend{
		client:     openai.NewClient(key),
		language:   cfg.Language,
		sampleRate: int(sampleRate),
		log:        log,
	}, nil
}

func (b *openaiBackend) Transcribe(ctx context.Context, samples []float32) ([]Segment, error) {
	f, err := os.CreateTemp("", "whisper-client-*.wav")
	if err != nil {
		return nil, fmt.Errorf("engine: create temp wav: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := audio.WriteWAV(path, samples, b.sampleRate); err != nil {
		return nil, fmt.Errorf("engine: encode window: %w", err)
	}

	lang := b.language
	if lang == "auto" {
		lang = ""
	}

	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: lang,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: openai transcription: %w", err)
	}

	var segments []Segment
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:       text,
			Start:      time.Duration(s.Start * float64(time.Second)),
			End:        time.Duration(s.End * float64(time.Second)),
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	return segments, nil
}

func (b *openaiBackend) Close() error {
	return nil
}

// logprobConfidence maps an average token log probability to [0,1].
func logprobConfidence(avgLogprob float64) float64 {
	c := math.Exp(avgLogprob)
	if c > 1 {
		return 1
	}
	return c
}
