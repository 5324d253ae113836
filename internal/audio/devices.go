package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// Device describes a capture device. ID is the index to pass to
// Capture.Start and to persist as the device preference.
type Device struct {
	ID      int
	Name    string
	Default bool
}

// ListDevices enumerates capture devices using a short-lived miniaudio
// context.
func ListDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	return devicesFromContext(ctx)
}

func devicesFromContext(ctx *malgo.AllocatedContext) ([]Device, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerating capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			ID:      i,
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}
