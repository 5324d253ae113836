package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // "text" or "json"
	Audio     AudioConfig   `yaml:"audio"`
	Engine    EngineConfig  `yaml:"engine"`
	Probe     ProbeConfig   `yaml:"probe"`
	Hotkey    HotkeyConfig  `yaml:"hotkey"`
	Relay     RelayConfig   `yaml:"relay"`
	Store     StoreConfig   `yaml:"store"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Session   SessionConfig `yaml:"session"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	// Device is the capture device index as reported by -list-devices.
	// -1 selects the system default microphone.
	Device     int    `yaml:"device"`
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
	// FrameSize is the number of samples per captured frame.
	FrameSize uint32 `yaml:"frame_size"`
	// QueueSize is how many frames may sit unconsumed before the oldest
	// is dropped.
	QueueSize int `yaml:"queue_size"`
	// DumpDir, when set, receives one WAV file per session with the raw
	// captured audio.
	DumpDir string `yaml:"dump_dir"`
}

// EngineConfig holds transcription engine settings.
type EngineConfig struct {
	Backend string `yaml:"backend"` // "whisper" or "openai"
	// Model names a catalog entry (e.g. "base.en"). Used to resolve the
	// model file when model_path is empty and by -download-model.
	Model     string `yaml:"model"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	// WindowMS is how much audio is batched per inference call.
	WindowMS int `yaml:"window_ms"`
	// SilenceRMS is the RMS level below which a window is skipped
	// without running inference.
	SilenceRMS float64 `yaml:"silence_rms"`
	// ForceCPU disables accelerator use even when the probe finds one.
	ForceCPU bool `yaml:"force_cpu"`
	// APIKeyEnv names the environment variable holding the API key for
	// the openai backend.
	APIKeyEnv string `yaml:"api_key_env"`
}

// ProbeConfig holds environment probe settings.
type ProbeConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
	Mode    string   `yaml:"mode"` // "hold" or "toggle"
}

// RelayConfig holds transcript forwarding settings. An empty URL
// disables the relay.
type RelayConfig struct {
	URL         string `yaml:"url"`
	UserID      string `yaml:"user_id"`
	Name        string `yaml:"name"`
	ReconnectMS int    `yaml:"reconnect_ms"`
}

// StoreConfig holds transcript history settings. An empty path
// disables persistence.
type StoreConfig struct {
	Path        string `yaml:"path"`
	MaxSessions int    `yaml:"max_sessions"`
}

// MetricsConfig holds the debug metrics listener settings. An empty
// bind disables the listener.
type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

// SessionConfig holds pipeline lifecycle settings.
type SessionConfig struct {
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "whisper-client")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the default directory for downloaded models.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "whisper-client", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Audio: AudioConfig{
			Device:     -1,
			SampleRate: 16000,
			Channels:   1,
			FrameSize:  1024,
			QueueSize:  32,
		},
		Engine: EngineConfig{
			Backend:    "whisper",
			Model:      "base.en",
			Language:   "en",
			WindowMS:   5000,
			SilenceRMS: 0.008,
			APIKeyEnv:  "OPENAI_API_KEY",
		},
		Probe: ProbeConfig{
			TimeoutMS: 3000,
		},
		Hotkey: HotkeyConfig{
			Enabled: false,
			Keys:    []string{"ctrl", "shift", "r"},
			Mode:    "hold",
		},
		Relay: RelayConfig{
			ReconnectMS: 5000,
		},
		Store: StoreConfig{
			MaxSessions: 200,
		},
		Session: SessionConfig{
			ShutdownTimeoutMS: 5000,
		},
	}
}

// Load reads and parses a YAML config file, applies WHISPER_* environment
// overrides, and fills missing fields with defaults. Tilde (~) in paths is
// expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths()

	return cfg, nil
}

// FromEnv returns the default config with WHISPER_* environment overrides
// applied. Used when no config file exists.
func FromEnv() *Config {
	cfg := Default()
	applyEnvOverrides(cfg)
	cfg.expandPaths()
	return cfg
}

func (c *Config) expandPaths() {
	c.Engine.ModelPath = expandTilde(c.Engine.ModelPath)
	c.Audio.DumpDir = expandTilde(c.Audio.DumpDir)
	c.Store.Path = expandTilde(c.Store.Path)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LogLevel, "WHISPER_LOG_LEVEL")
	overrideString(&cfg.LogFormat, "WHISPER_LOG_FORMAT")
	overrideInt(&cfg.Audio.Device, "WHISPER_AUDIO_DEVICE")
	overrideUint32(&cfg.Audio.SampleRate, "WHISPER_AUDIO_SAMPLE_RATE")
	overrideUint32(&cfg.Audio.Channels, "WHISPER_AUDIO_CHANNELS")
	overrideUint32(&cfg.Audio.FrameSize, "WHISPER_AUDIO_FRAME_SIZE")
	overrideInt(&cfg.Audio.QueueSize, "WHISPER_AUDIO_QUEUE_SIZE")
	overrideString(&cfg.Audio.DumpDir, "WHISPER_AUDIO_DUMP_DIR")
	overrideString(&cfg.Engine.Backend, "WHISPER_ENGINE_BACKEND")
	overrideString(&cfg.Engine.Model, "WHISPER_ENGINE_MODEL")
	overrideString(&cfg.Engine.ModelPath, "WHISPER_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "WHISPER_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.WindowMS, "WHISPER_ENGINE_WINDOW_MS")
	overrideFloat(&cfg.Engine.SilenceRMS, "WHISPER_ENGINE_SILENCE_RMS")
	overrideBool(&cfg.Engine.ForceCPU, "WHISPER_ENGINE_FORCE_CPU")
	overrideInt(&cfg.Probe.TimeoutMS, "WHISPER_PROBE_TIMEOUT_MS")
	overrideBool(&cfg.Hotkey.Enabled, "WHISPER_HOTKEY_ENABLED")
	overrideStringSlice(&cfg.Hotkey.Keys, "WHISPER_HOTKEY_KEYS")
	overrideString(&cfg.Hotkey.Mode, "WHISPER_HOTKEY_MODE")
	overrideString(&cfg.Relay.URL, "WHISPER_RELAY_URL")
	overrideString(&cfg.Relay.UserID, "WHISPER_RELAY_USER_ID")
	overrideString(&cfg.Relay.Name, "WHISPER_RELAY_NAME")
	overrideInt(&cfg.Relay.ReconnectMS, "WHISPER_RELAY_RECONNECT_MS")
	overrideString(&cfg.Store.Path, "WHISPER_STORE_PATH")
	overrideInt(&cfg.Store.MaxSessions, "WHISPER_STORE_MAX_SESSIONS")
	overrideString(&cfg.Metrics.Bind, "WHISPER_METRICS_BIND")
	overrideInt(&cfg.Session.ShutdownTimeoutMS, "WHISPER_SESSION_SHUTDOWN_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideUint32(target *uint32, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseUint(value, 10, 32); err == nil {
			*target = uint32(parsed)
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			*target = parts
		}
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	if c.Audio.Device < -1 {
		return fmt.Errorf("audio.device must be -1 (default) or a device index, got %d", c.Audio.Device)
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.FrameSize == 0 {
		return fmt.Errorf("audio.frame_size must be > 0")
	}

	if c.Audio.QueueSize <= 0 {
		return fmt.Errorf("audio.queue_size must be > 0")
	}

	switch c.Engine.Backend {
	case "whisper":
		if c.Engine.Model == "" && c.Engine.ModelPath == "" {
			return fmt.Errorf("engine.model or engine.model_path must be set for the whisper backend")
		}
	case "openai":
		if c.Engine.APIKeyEnv == "" {
			return fmt.Errorf("engine.api_key_env must be set for the openai backend")
		}
	default:
		return fmt.Errorf("engine.backend must be \"whisper\" or \"openai\", got %q", c.Engine.Backend)
	}

	if c.Engine.WindowMS <= 0 {
		return fmt.Errorf("engine.window_ms must be > 0")
	}

	if c.Engine.SilenceRMS < 0 {
		return fmt.Errorf("engine.silence_rms must be >= 0")
	}

	if c.Probe.TimeoutMS <= 0 {
		return fmt.Errorf("probe.timeout_ms must be > 0")
	}

	if c.Hotkey.Enabled {
		if len(c.Hotkey.Keys) == 0 {
			return fmt.Errorf("hotkey.keys must not be empty when hotkey is enabled")
		}
		switch c.Hotkey.Mode {
		case "hold", "toggle":
		default:
			return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
		}
	}

	if c.Relay.URL != "" {
		if !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
			return fmt.Errorf("relay.url must start with ws:// or wss://, got %q", c.Relay.URL)
		}
		if c.Relay.ReconnectMS <= 0 {
			return fmt.Errorf("relay.reconnect_ms must be > 0")
		}
	}

	if c.Store.Path != "" && c.Store.MaxSessions < 0 {
		return fmt.Errorf("store.max_sessions must be >= 0")
	}

	if c.Session.ShutdownTimeoutMS <= 0 {
		return fmt.Errorf("session.shutdown_timeout_ms must be > 0")
	}

	return nil
}

// WriteDefault writes the default config to the default path if no config
// file exists there yet. It returns the written path, or "" if a config
// file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# whisper-client configuration\n# Every field can be overridden with a WHISPER_* environment variable.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	return path, nil
}

// SaveDevice persists the selected capture device index into the config
// file at path, creating the file from defaults if it does not exist.
func SaveDevice(path string, device int) error {
	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Audio.Device = device

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	header := "# whisper-client configuration\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ParseLogLevel converts a config log level string to a slog.Level.
// Unknown values default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
