package camera

import "errors"

var (
	// ErrPermissionDenied is returned by a Device when the user or the
	// platform refuses access, or no camera is present.
	ErrPermissionDenied = errors.New("camera: permission denied")

	// ErrDeviceDenied is returned by Manager.Acquire when no stream could be
	// obtained. It wraps the device error.
	ErrDeviceDenied = errors.New("camera: device denied")

	// ErrSessionActive is returned when a session is already active.
	ErrSessionActive = errors.New("camera: session already active")

	// ErrSessionClosed is returned when reading from a released session.
	ErrSessionClosed = errors.New("camera: session closed")

	// ErrNoFrame is returned when the stream produced no usable frame.
	ErrNoFrame = errors.New("camera: no frame")

	// ErrManagerClosed is returned by Acquire after Close.
	ErrManagerClosed = errors.New("camera: manager closed")
)
