package face

import "errors"

var (
	// ErrNotLoaded is returned by Detect before artifacts are loaded.
	ErrNotLoaded = errors.New("face: engine artifacts not loaded")

	// ErrUnknownArtifact is returned when an artifact name is not understood.
	ErrUnknownArtifact = errors.New("face: unknown artifact")

	// ErrEmptyFrame is returned for frames that carry no image or cannot
	// be decoded.
	ErrEmptyFrame = errors.New("face: empty frame")
)
