package probe

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSMI writes an executable shell script that stands in for nvidia-smi
// and points the probe at it for the duration of the test.
func fakeSMI(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "nvidia-smi")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatalf("failed to write fake nvidia-smi: %v", err)
	}
	orig := smiCommand
	smiCommand = path
	t.Cleanup(func() { smiCommand = orig })
}

func skipOnAppleSilicon(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		t.Skip("probe short-circuits to metal on darwin/arm64")
	}
}

func TestParseSMI(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantName    string
		wantVersion string
		wantOK      bool
	}{
		{
			name:        "single gpu",
			output:      "NVIDIA GeForce RTX 3080, 551.23",
			wantName:    "NVIDIA GeForce RTX 3080",
			wantVersion: "551.23",
			wantOK:      true,
		},
		{
			name:        "trailing newline",
			output:      "NVIDIA T4, 535.104.05\n",
			wantName:    "NVIDIA T4",
			wantVersion: "535.104.05",
			wantOK:      true,
		},
		{
			name:        "multiple gpus takes first",
			output:      "NVIDIA A100, 550.54\nNVIDIA A100, 550.54\n",
			wantName:    "NVIDIA A100",
			wantVersion: "550.54",
			wantOK:      true,
		},
		{
			name:   "empty output",
			output: "",
			wantOK: false,
		},
		{
			name:   "whitespace only",
			output: "  \n",
			wantOK: false,
		},
		{
			name:   "no comma",
			output: "command not recognized",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, version, ok := parseSMI(tt.output)
			if ok != tt.wantOK {
				t.Fatalf("parseSMI(%q) ok = %v, want %v", tt.output, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
		})
	}
}

func TestRunWithGPU(t *testing.T) {
	skipOnAppleSilicon(t)
	fakeSMI(t, `echo "NVIDIA GeForce RTX 3080, 551.23"`)

	c := Run(context.Background(), time.Second, newLogger())

	if !c.Accelerator {
		t.Fatal("Accelerator should be true")
	}
	if c.Kind != "cuda" {
		t.Errorf("Kind = %q, want %q", c.Kind, "cuda")
	}
	if c.Device != "NVIDIA GeForce RTX 3080" {
		t.Errorf("Device = %q, want %q", c.Device, "NVIDIA GeForce RTX 3080")
	}
	if c.RuntimeVersion != "551.23" {
		t.Errorf("RuntimeVersion = %q, want %q", c.RuntimeVersion, "551.23")
	}
}

func TestRunWithoutGPU(t *testing.T) {
	skipOnAppleSilicon(t)

	orig := smiCommand
	smiCommand = "whisper-client-no-such-binary"
	t.Cleanup(func() { smiCommand = orig })

	c := Run(context.Background(), time.Second, newLogger())

	if c.Accelerator {
		t.Error("Accelerator should be false when the probe binary is missing")
	}
}

func TestRunFailingCommand(t *testing.T) {
	skipOnAppleSilicon(t)
	fakeSMI(t, "exit 9")

	c := Run(context.Background(), time.Second, newLogger())

	if c.Accelerator {
		t.Error("Accelerator should be false when the probe command fails")
	}
}

func TestRunHonorsTimeout(t *testing.T) {
	skipOnAppleSilicon(t)
	fakeSMI(t, "sleep 5")

	start := time.Now()
	c := Run(context.Background(), 100*time.Millisecond, newLogger())
	elapsed := time.Since(start)

	if c.Accelerator {
		t.Error("Accelerator should be false on timeout")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Run took %v, should give up near the 100ms deadline", elapsed)
	}
}
