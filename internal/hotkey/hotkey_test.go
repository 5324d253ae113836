package hotkey

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dzpline/whisper-client/internal/config"
)

func testListener(mode string) *Listener {
	cfg := config.HotkeyConfig{
		Enabled: true,
		Keys:    []string{"ctrl", "shift", "r"},
		Mode:    mode,
	}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTogglePress(t *testing.T) {
	var tg toggle
	want := []EventType{EventStart, EventStop, EventStart, EventStop}
	for i, w := range want {
		if got := tg.press(); got != w {
			t.Errorf("press %d = %v, want %v", i, got, w)
		}
	}
}

func TestEventTypeString(t *testing.T) {
	if got := EventStart.String(); got != "start" {
		t.Errorf("EventStart.String() = %q, want start", got)
	}
	if got := EventStop.String(); got != "stop" {
		t.Errorf("EventStop.String() = %q, want stop", got)
	}
}

func TestEmitDoesNotBlock(t *testing.T) {
	l := testListener(ModeHold)
	// Fill the buffer past capacity; emit must drop instead of blocking.
	for i := 0; i < 32; i++ {
		l.emit(EventStart)
	}
	if got := len(l.ch); got != 16 {
		t.Errorf("buffered events = %d, want 16", got)
	}
}

func TestStopIdempotent(t *testing.T) {
	l := testListener(ModeToggle)
	l.Stop()
	l.Stop() // must not panic
	select {
	case <-l.done:
	default:
		t.Error("done channel still open after Stop")
	}
}
