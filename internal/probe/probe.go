// Package probe detects inference accelerators available on the host.
//
// Detection is best effort and read only: a probe never fails, it only
// reports what it found before the deadline. Callers treat a negative
// result as CPU fallback, not as an error.
package probe

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Capability describes the acceleration facts discovered at startup.
type Capability struct {
	Accelerator    bool
	Kind           string // "cuda" or "metal"
	Device         string
	RuntimeVersion string
}

// smiCommand is the binary used for NVIDIA accelerator discovery.
// Overridable in tests.
var smiCommand = "nvidia-smi"

// Run probes the host for a usable accelerator, giving up after timeout.
// It never blocks past the deadline and never returns an error.
func Run(ctx context.Context, timeout time.Duration, log *slog.Logger) Capability {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		c := Capability{Accelerator: true, Kind: "metal", Device: "Apple Silicon GPU"}
		log.Debug("accelerator detected",
			slog.String("kind", c.Kind),
			slog.String("device", c.Device))
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, smiCommand,
		"--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		log.Debug("no accelerator detected", slog.String("error", err.Error()))
		return Capability{}
	}

	name, version, ok := parseSMI(string(out))
	if !ok {
		log.Debug("unexpected accelerator query output",
			slog.String("output", strings.TrimSpace(string(out))))
		return Capability{}
	}

	c := Capability{Accelerator: true, Kind: "cuda", Device: name, RuntimeVersion: version}
	log.Debug("accelerator detected",
		slog.String("kind", c.Kind),
		slog.String("device", c.Device),
		slog.String("driver", c.RuntimeVersion))
	return c
}

// parseSMI extracts the name and driver version of the first GPU from
// nvidia-smi CSV output.
func parseSMI(out string) (name, version string, ok bool) {
	line := strings.TrimSpace(out)
	if line == "" {
		return "", "", false
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	name = strings.TrimSpace(parts[0])
	version = strings.TrimSpace(parts[1])
	if name == "" {
		return "", "", false
	}
	return name, version, true
}
