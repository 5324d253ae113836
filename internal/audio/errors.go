package audio

import "errors"

var (
	// ErrDeviceNotFound means the requested capture device index does not exist.
	ErrDeviceNotFound = errors.New("audio: capture device not found")

	// ErrDeviceBusy means the capture device exists but could not be
	// opened or started.
	ErrDeviceBusy = errors.New("audio: capture device busy")

	// ErrAlreadyStarted means Start was called twice on the same Capture.
	ErrAlreadyStarted = errors.New("audio: capture already started")
)
