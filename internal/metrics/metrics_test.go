package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.FramesCaptured.Inc()
	m.FramesCaptured.Inc()
	m.FramesDropped.Inc()
	m.Transcripts.Inc()

	if got := testutil.ToFloat64(m.FramesCaptured); got != 2 {
		t.Errorf("FramesCaptured = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped); got != 1 {
		t.Errorf("FramesDropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Transcripts); got != 1 {
		t.Errorf("Transcripts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WindowsSkipped); got != 0 {
		t.Errorf("WindowsSkipped = %v, want 0", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two Metrics must not collide on registration.
	a := New()
	b := New()
	a.FramesDropped.Inc()

	if got := testutil.ToFloat64(b.FramesDropped); got != 0 {
		t.Errorf("second registry FramesDropped = %v, want 0", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.FramesDropped.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}

	if !strings.Contains(string(body), "whisper_client_frames_dropped_total 1") {
		t.Errorf("metrics output missing drop counter, got:\n%s", body)
	}
}

func TestServerHealthz(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer("127.0.0.1:0", New(), log)

	srv := httptest.NewServer(s.srv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
