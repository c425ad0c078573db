package moodmap

import "errors"

var (
	// ErrNotReady is returned when a capture is requested before the
	// models are loaded.
	ErrNotReady = errors.New("moodmap: models not loaded")

	// ErrBusy is returned when another capture or analysis is starting or
	// running.
	ErrBusy = errors.New("moodmap: busy")

	// ErrCancelled is returned by an operation that was superseded by a
	// stop or reset while it was running.
	ErrCancelled = errors.New("moodmap: cancelled")

	// ErrNoResult is returned by Export while there is nothing to export.
	ErrNoResult = errors.New("moodmap: no result")

	// ErrExportFailure is returned when compositing or saving a snapshot
	// failed. Export can be retried.
	ErrExportFailure = errors.New("moodmap: export failed")
)
