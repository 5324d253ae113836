package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/models"
	"github.com/dzpline/whisper-client/internal/probe"
)

// whisperModelPath resolves the base.en model in the local model
// directory, skipping the test when it has not been downloaded.
func whisperModelPath(t *testing.T) string {
	t.Helper()
	path, err := models.Path("base.en")
	if err != nil {
		t.Fatalf("resolve model path: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("model not found at %s (run 'whisper-client -download-model base.en' first): %v", path, err)
	}
	return path
}

// loadWAVSamples loads a 16-bit PCM WAV file and returns mono float32
// samples normalized to [-1.0, 1.0]. Skips the test if the file is absent.
func loadWAVSamples(t *testing.T, wavPath string) []float32 {
	t.Helper()
	f, err := os.Open(wavPath)
	if err != nil {
		t.Skipf("WAV file not found at %s: %v", wavPath, err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode WAV %s: %v", wavPath, err)
	}

	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

func whisperTestConfig(modelPath string) *config.EngineConfig {
	return &config.EngineConfig{
		Backend:   "whisper",
		ModelPath: modelPath,
		Language:  "en",
		WindowMS:  5000,
	}
}

func TestNewWhisperBackend(t *testing.T) {
	path := whisperModelPath(t)

	b, err := newWhisperBackend(whisperTestConfig(path), probe.Capability{}, testLogger())
	if err != nil {
		t.Fatalf("newWhisperBackend(%q) returned error: %v", path, err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestNewWhisperBackendBadPath(t *testing.T) {
	_, err := newWhisperBackend(whisperTestConfig("/nonexistent/model.bin"), probe.Capability{}, testLogger())
	if err == nil {
		t.Fatal("newWhisperBackend with bad path should return error")
	}
}

func TestNewWhisperBackendUnknownModel(t *testing.T) {
	cfg := whisperTestConfig("")
	cfg.Model = "humongous"

	_, err := newWhisperBackend(cfg, probe.Capability{}, testLogger())
	if err == nil {
		t.Fatal("newWhisperBackend with unknown model size should return error")
	}
}

func TestWhisperTranscribeCanceled(t *testing.T) {
	b := &whisperBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Transcribe(ctx, make([]float32, 16000))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Transcribe with canceled context = %v, want context.Canceled", err)
	}
}

func TestWhisperTranscribeJFK(t *testing.T) {
	path := whisperModelPath(t)
	samples := loadWAVSamples(t, filepath.Join("testdata", "jfk.wav"))

	b, err := newWhisperBackend(whisperTestConfig(path), probe.Capability{}, testLogger())
	if err != nil {
		t.Fatalf("newWhisperBackend: %v", err)
	}
	defer func() { _ = b.Close() }()

	segs, err := b.Transcribe(context.Background(), samples)
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if len(segs) == 0 {
		t.Fatal("Transcribe returned no segments")
	}

	var parts []string
	var prevStart time.Duration
	for i, s := range segs {
		parts = append(parts, s.Text)
		if s.Start > s.End {
			t.Errorf("segment %d has Start %v > End %v", i, s.Start, s.End)
		}
		if s.Start < prevStart {
			t.Errorf("segment %d Start %v before previous Start %v", i, s.Start, prevStart)
		}
		prevStart = s.Start
		if s.Confidence < 0 || s.Confidence > 1 {
			t.Errorf("segment %d Confidence = %f, out of [0,1]", i, s.Confidence)
		}
	}

	text := strings.ToLower(strings.Join(parts, " "))
	if !strings.Contains(text, "ask not what your country") {
		t.Errorf("expected transcript to contain 'ask not what your country', got: %q", text)
	}

	ref := "and so my fellow americans ask not what your country can do for you ask what you can do for your country"
	if wer := ComputeWER(ref, text); wer.Rate > 0.3 {
		t.Errorf("word error rate %.2f too high against reference (subs=%d ins=%d dels=%d)",
			wer.Rate, wer.Substitutions, wer.Insertions, wer.Deletions)
	}
}

func TestWhisperTranscribeSilence(t *testing.T) {
	path := whisperModelPath(t)

	b, err := newWhisperBackend(whisperTestConfig(path), probe.Capability{}, testLogger())
	if err != nil {
		t.Fatalf("newWhisperBackend: %v", err)
	}
	defer func() { _ = b.Close() }()

	// One second of silence decodes without error.
	_, err = b.Transcribe(context.Background(), make([]float32, 16000))
	if err != nil {
		t.Fatalf("Transcribe on silence returned error: %v", err)
	}
}

func TestWhisperTranscribeShortClip(t *testing.T) {
	path := whisperModelPath(t)

	b, err := newWhisperBackend(whisperTestConfig(path), probe.Capability{}, testLogger())
	if err != nil {
		t.Fatalf("newWhisperBackend: %v", err)
	}
	defer func() { _ = b.Close() }()

	// Clips under a second are padded before decoding.
	_, err = b.Transcribe(context.Background(), make([]float32, 1000))
	if err != nil {
		t.Fatalf("Transcribe on short clip returned error: %v", err)
	}
}
