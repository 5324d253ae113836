// Command whisper-client captures microphone audio, transcribes it with
// a local whisper.cpp model or the OpenAI API, and delivers transcripts
// to the log, an optional relay server, and an optional local history.
//
// Usage:
//
//	whisper-client [--config path]
//	whisper-client --list-devices
//	whisper-client --save-device 2
//	whisper-client --download-model base.en
//	whisper-client --init-config
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dzpline/whisper-client/internal/audio"
	"github.com/dzpline/whisper-client/internal/config"
	"github.com/dzpline/whisper-client/internal/engine"
	"github.com/dzpline/whisper-client/internal/hotkey"
	"github.com/dzpline/whisper-client/internal/metrics"
	"github.com/dzpline/whisper-client/internal/models"
	"github.com/dzpline/whisper-client/internal/probe"
	"github.com/dzpline/whisper-client/internal/relay"
	"github.com/dzpline/whisper-client/internal/session"
	"github.com/dzpline/whisper-client/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/whisper-client/config.yaml)")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	saveDevice := flag.Int("save-device", -2, "persist a capture device index (-1 for system default) into the config file and exit")
	downloadModel := flag.String("download-model", "", "download a whisper model ("+strings.Join(models.Sizes(), ", ")+") and exit")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	// .env before anything reads the environment.
	_ = godotenv.Load()

	switch {
	case *listDevices:
		exitOnErr(runListDevices())
		return
	case *downloadModel != "":
		exitOnErr(models.Download(*downloadModel))
		return
	case *initConfig:
		exitOnErr(runInitConfig())
		return
	case *saveDevice >= -1:
		exitOnErr(runSaveDevice(*configPath, *saveDevice))
		return
	}

	cfg, err := loadConfig(*configPath)
	exitOnErr(err)
	if err := cfg.Validate(); err != nil {
		exitOnErr(fmt.Errorf("config validation: %w", err))
	}

	log := newLogger(cfg)
	printBanner(cfg)

	run(cfg, log)
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) {
	// Probe once at startup. Never fatal: no accelerator means CPU
	// decoding, force_cpu pins it there regardless of what was found.
	capability := probe.Run(context.Background(),
		time.Duration(cfg.Probe.TimeoutMS)*time.Millisecond, log)
	switch {
	case capability.Accelerator && cfg.Engine.ForceCPU:
		log.Info("accelerator found but disabled by config",
			slog.String("kind", capability.Kind))
	case capability.Accelerator:
		log.Info("accelerator found",
			slog.String("kind", capability.Kind),
			slog.String("device", capability.Device))
	default:
		log.Info("no accelerator found, transcription runs on CPU")
	}

	if cfg.Engine.Backend == "whisper" && cfg.Engine.ModelPath == "" {
		if _, err := models.Ensure(cfg.Engine.Model); err != nil {
			log.Error("model not available", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	m := metrics.New()
	if cfg.Metrics.Bind != "" {
		msrv := metrics.NewServer(cfg.Metrics.Bind, m, log)
		msrv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = msrv.Shutdown(ctx)
		}()
	}

	st, err := store.Open(context.Background(), cfg.Store, log)
	if err != nil {
		log.Error("opening transcript store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	var relayClient *relay.Client
	if cfg.Relay.URL != "" {
		relayClient = relay.New(cfg.Relay, log)
		relayClient.Start()
		defer relayClient.Close()
	}

	sinks := []session.Sink{session.NewLogSink(log)}
	if relayClient != nil {
		sinks = append(sinks, session.NewRelaySink(relayClient, cfg.Engine.Language))
	}
	if st.Enabled() {
		sinks = append(sinks, session.NewStoreSink(st))
	}

	r := &runner{
		cfg:        cfg,
		capability: capability,
		m:          m,
		st:         st,
		sinks:      sinks,
		log:        log,
	}

	if cfg.Hotkey.Enabled {
		r.runHotkey()
		return
	}
	r.runContinuous()
}

// runner holds the pieces shared by every session of one process run.
type runner struct {
	cfg        *config.Config
	capability probe.Capability
	m          *metrics.Metrics
	st         *store.Store
	sinks      []session.Sink
	log        *slog.Logger
}

// runContinuous records one session from start until SIGINT/SIGTERM.
func (r *runner) runContinuous() {
	r.log.Info("loading transcription backend")
	loadStart := time.Now()
	eng, err := engine.New(&r.cfg.Engine, r.cfg.Audio.SampleRate, r.capability, r.m, r.log)
	if err != nil {
		r.log.Error("initializing engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	r.log.Info("backend ready",
		slog.Duration("elapsed", time.Since(loadStart).Round(time.Millisecond)))

	sess, err := r.startSession(eng)
	if err != nil {
		r.log.Error("starting session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	r.log.Info("shutting down", slog.String("signal", sig.String()))

	if err := sess.Stop(context.Background()); err != nil {
		r.log.Warn("session shutdown incomplete", slog.String("error", err.Error()))
	}
}

// runHotkey loads the backend once and runs one session per hotkey
// press. The model stays resident across sessions.
func (r *runner) runHotkey() {
	r.log.Info("loading transcription backend")
	loadStart := time.Now()
	backend, err := engine.NewBackend(&r.cfg.Engine, r.cfg.Audio.SampleRate, r.capability, r.log)
	if err != nil {
		r.log.Error("initializing engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.Close()
	r.log.Info("backend ready",
		slog.Duration("elapsed", time.Since(loadStart).Round(time.Millisecond)))

	listener := hotkey.New(r.cfg.Hotkey, r.log)
	go listener.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	r.log.Info("ready",
		slog.String("hotkey", strings.Join(r.cfg.Hotkey.Keys, "+")),
		slog.String("mode", r.cfg.Hotkey.Mode))

	var active *session.Session
	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.stopActive(active)
				return
			}
			switch ev.Type {
			case hotkey.EventStart:
				if active != nil {
					continue
				}
				eng := engine.NewWithBackend(&r.cfg.Engine, r.cfg.Audio.SampleRate,
					keepAlive{backend}, r.m, r.log)
				sess, err := r.startSession(eng)
				if err != nil {
					r.log.Error("starting session", slog.String("error", err.Error()))
					continue
				}
				active = sess
			case hotkey.EventStop:
				if active == nil {
					continue
				}
				// Flush in the background so a long final window does
				// not delay the next press.
				go func(sess *session.Session) {
					if err := sess.Stop(context.Background()); err != nil {
						r.log.Warn("session shutdown incomplete",
							slog.String("error", err.Error()))
					}
				}(active)
				active = nil
			}
		case sig := <-sigCh:
			r.log.Info("shutting down", slog.String("signal", sig.String()))
			r.stopActive(active)
			listener.Stop()
			backend.Close()
			r.st.Close()
			// Exit directly to avoid gohook's C cleanup crash. The OS
			// reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

func (r *runner) stopActive(sess *session.Session) {
	if sess == nil {
		return
	}
	if err := sess.Stop(context.Background()); err != nil {
		r.log.Warn("session shutdown incomplete", slog.String("error", err.Error()))
	}
}

// startSession builds a capture and a session around eng and starts it.
// On success the session owns the capture.
func (r *runner) startSession(eng *engine.Engine) (*session.Session, error) {
	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: r.cfg.Audio.SampleRate,
		Channels:   r.cfg.Audio.Channels,
		FrameSize:  r.cfg.Audio.FrameSize,
		QueueSize:  r.cfg.Audio.QueueSize,
	}, r.m, r.log)
	if err != nil {
		return nil, err
	}

	sess := session.New(r.cfg, capture, eng, r.sinks, r.log)

	if err := r.st.AppendSession(context.Background(), store.Session{
		ID:         sess.ID(),
		StartedAt:  time.Now(),
		Device:     deviceLabel(r.cfg.Audio.Device),
		Model:      modelLabel(&r.cfg.Engine),
		Capability: capabilityLabel(r.capability, r.cfg.Engine.ForceCPU),
	}); err != nil {
		r.log.Warn("session not persisted", slog.String("error", err.Error()))
	}

	if err := sess.Start(context.Background()); err != nil {
		capture.Close()
		return nil, err
	}
	return sess, nil
}

// keepAlive blocks Close so per-session engines can share one loaded
// backend; the real Close happens once at process exit.
type keepAlive struct {
	engine.Backend
}

func (keepAlive) Close() error { return nil }

func runListDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}
	fmt.Println("Capture devices:")
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("  %s [%d] %s\n", marker, d.ID, d.Name)
	}
	fmt.Println("\nPass --save-device N to persist a selection (* marks the system default).")
	return nil
}

func runInitConfig() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config file already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runSaveDevice(configPath string, device int) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if err := config.SaveDevice(path, device); err != nil {
		return err
	}
	fmt.Printf("Saved device %d to %s\n", device, path)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses environment-driven defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file: defaults plus WHISPER_* overrides.
	return config.FromEnv(), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== whisper-client ===")
	fmt.Printf("  Backend: %s\n", cfg.Engine.Backend)
	fmt.Printf("  Model:   %s\n", modelLabel(&cfg.Engine))
	fmt.Printf("  Audio:   %dHz, %dch, device %s\n",
		cfg.Audio.SampleRate, cfg.Audio.Channels, deviceLabel(cfg.Audio.Device))
	fmt.Printf("  Window:  %dms\n", cfg.Engine.WindowMS)
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Hotkey:  %s (%s mode)\n",
			strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}
	if cfg.Relay.URL != "" {
		fmt.Printf("  Relay:   %s\n", cfg.Relay.URL)
	}
	fmt.Println("======================")
}

func deviceLabel(device int) string {
	if device < 0 {
		return "default"
	}
	return strconv.Itoa(device)
}

func modelLabel(cfg *config.EngineConfig) string {
	if cfg.Backend == "openai" {
		return "openai/whisper-1"
	}
	if cfg.ModelPath != "" {
		return cfg.ModelPath
	}
	return cfg.Model
}

func capabilityLabel(c probe.Capability, forceCPU bool) string {
	if forceCPU || !c.Accelerator {
		return "cpu"
	}
	return c.Kind
}
