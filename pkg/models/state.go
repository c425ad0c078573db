// Package models bootstraps the face-analysis engine: it initialises the
// runtime, makes every artifact of the manifest available on disk and loads
// them, exactly once per process.
package models

import "errors"

// ErrModelLoadFailure is returned when the engine could not be loaded.
// The failure is final for the process.
var ErrModelLoadFailure = errors.New("models: load failed")

// Status is the lifecycle stage of the engine.
type Status int

const (
	// StatusUnloaded means EnsureLoaded was never called.
	StatusUnloaded Status = iota

	// StatusLoading means a load is in progress.
	StatusLoading

	// StatusReady means every artifact is loaded.
	StatusReady

	// StatusFailed means the load failed.
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the model state as seen by callers.
type State struct {
	Status   Status
	Progress string // human-readable stage while loading
	Err      error  // set when Status is StatusFailed
}
