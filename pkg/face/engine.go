package face

import "context"

// Artifact is one named model file set the engine needs before it can detect.
type Artifact struct {
	Name  string   `json:"name" yaml:"name"`
	Files []string `json:"files" yaml:"files"`
}

// Options tunes a single Detect call.
type Options struct {
	InputSize      int     // square network input size in pixels
	ScoreThreshold float64 // minimum face confidence
}

// DefaultOptions mirrors the tiny face detector settings of the web client.
func DefaultOptions() Options {
	return Options{
		InputSize:      416,
		ScoreThreshold: 0.5,
	}
}

// Engine is the face-analysis capability. Implementations are adapters
// around a concrete runtime; callers depend only on this contract.
type Engine interface {
	// Init prepares the runtime. Called once before LoadArtifacts.
	Init(ctx context.Context) error

	// LoadArtifacts loads every artifact; files are local paths.
	LoadArtifacts(ctx context.Context, artifacts []Artifact) error

	// Detect analyses a JPEG frame and returns zero or more faces.
	Detect(ctx context.Context, jpeg []byte, opts Options) ([]Detection, error)

	// Close releases runtime resources.
	Close() error
}
