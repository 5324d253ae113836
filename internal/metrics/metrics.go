// Package metrics collects pipeline counters and serves them over an
// optional debug HTTP listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors, registered on a
// private registry.
type Metrics struct {
	registry *prometheus.Registry

	// FramesCaptured counts audio frames produced by the capture device.
	FramesCaptured prometheus.Counter
	// FramesDropped counts frames evicted from the capture queue under
	// backpressure. Monotonic.
	FramesDropped prometheus.Counter
	// Transcripts counts transcript events emitted by the engine.
	Transcripts prometheus.Counter
	// WindowsSkipped counts audio windows skipped by the silence gate.
	WindowsSkipped prometheus.Counter
	// InferenceErrors counts backend failures at steady state.
	InferenceErrors prometheus.Counter
	// InferenceTime observes wall time per inference call.
	InferenceTime prometheus.Histogram
}

// New creates a Metrics backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_client_frames_captured_total",
			Help: "Audio frames produced by the capture device.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_client_frames_dropped_total",
			Help: "Frames evicted from the capture queue under backpressure.",
		}),
		Transcripts: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_client_transcripts_total",
			Help: "Transcript events emitted by the engine.",
		}),
		WindowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_client_windows_skipped_total",
			Help: "Audio windows skipped by the silence gate.",
		}),
		InferenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_client_inference_errors_total",
			Help: "Inference calls that returned an error.",
		}),
		InferenceTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_client_inference_seconds",
			Help:    "Wall time per inference call.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server exposes /metrics and /healthz on a debug listener.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates the debug listener for the given bind address.
func NewServer(bind string, m *Metrics, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{Addr: bind, Handler: mux},
		log: log.With(slog.String("component", "metrics")),
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics listener started", slog.String("bind", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics listener stopped", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
