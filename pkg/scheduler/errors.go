package scheduler

import "errors"

var (
	// ErrNoFaceDetected is returned when every attempt of a bounded-retry
	// analysis came back without a face.
	ErrNoFaceDetected = errors.New("scheduler: no face detected")

	// ErrModelsNotReady is returned when detection is requested before the
	// engine is loaded.
	ErrModelsNotReady = errors.New("scheduler: models not ready")

	// ErrFrameUnavailable wraps a failed frame read, as opposed to a
	// failed detection on a frame that was read.
	ErrFrameUnavailable = errors.New("scheduler: frame unavailable")

	// errEmpty marks an attempt that found no face.
	errEmpty = errors.New("scheduler: empty frame result")
)
