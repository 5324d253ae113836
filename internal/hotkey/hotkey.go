// Package hotkey turns a global key combo into session start/stop
// events. "hold" mode records while the combo is held down; "toggle"
// mode flips recording on each press.
package hotkey

import (
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/dzpline/whisper-client/internal/config"
)

// Modes accepted by config.HotkeyConfig.Mode.
const (
	ModeHold   = "hold"
	ModeToggle = "toggle"
)

// EventType indicates whether a session should start or stop.
type EventType int

const (
	// EventStart signals that the combo was activated.
	EventStart EventType = iota
	// EventStop signals that the combo was released or toggled off.
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener owns the global hook and emits Events for the configured
// combo. Run blocks until Stop is called.
type Listener struct {
	cfg  config.HotkeyConfig
	log  *slog.Logger
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// New creates a Listener for cfg.Keys in cfg.Mode. Keys are lowercase
// key names as gohook expects them, e.g. ["ctrl", "shift", "r"].
func New(cfg config.HotkeyConfig, log *slog.Logger) *Listener {
	return &Listener{
		cfg:  cfg,
		log:  log.With("component", "hotkey"),
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events. It is closed
// after Stop once the hook loop has drained.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Run installs the hook and processes key events until Stop is called.
// It blocks; run it in a goroutine.
func (l *Listener) Run() {
	l.log.Info("hotkey listener armed", "keys", l.cfg.Keys, "mode", l.cfg.Mode)
	switch l.cfg.Mode {
	case ModeToggle:
		l.registerToggle()
	default:
		l.registerHold()
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// registerHold maps KeyDown to EventStart and KeyUp to EventStop.
func (l *Listener) registerHold() {
	hook.Register(hook.KeyDown, l.cfg.Keys, func(e hook.Event) {
		l.emit(EventStart)
	})
	hook.Register(hook.KeyUp, l.cfg.Keys, func(e hook.Event) {
		l.emit(EventStop)
	})
}

// registerToggle flips between start and stop on each press.
func (l *Listener) registerToggle() {
	var t toggle
	hook.Register(hook.KeyDown, l.cfg.Keys, func(e hook.Event) {
		l.emit(t.press())
	})
}

func (l *Listener) emit(t EventType) {
	l.log.Debug("hotkey event", "event", t)
	select {
	case l.ch <- Event{Type: t}:
	default: // a stalled consumer must not wedge the hook thread
	}
}

// Stop terminates the hook loop. Safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// toggle is the press state machine for toggle mode.
type toggle struct {
	mu sync.Mutex
	on bool
}

// press flips the state and reports the event the flip produces.
func (t *toggle) press() EventType {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.on = !t.on
	if t.on {
		return EventStart
	}
	return EventStop
}
