package face

import (
	"context"
	"sync"
	"time"
)

// MockResult is one scripted response of MockEngine.Detect.
type MockResult struct {
	Detections []Detection
	Err        error
}

// MockEngine is a scripted Engine for tests and the demo server.
// Detect returns the scripted results in order; once the script runs out it
// keeps returning Fallback.
type MockEngine struct {
	mu sync.Mutex

	Script   []MockResult
	Fallback MockResult

	// Delay is applied to every Detect call.
	Delay time.Duration

	InitErr error
	LoadErr error
	// LoadDelay is applied to LoadArtifacts.
	LoadDelay time.Duration

	initCalls int
	loadCalls int
	calls     int
	inFlight  int
	maxFlight int
	loaded    []Artifact
	closed    bool
	lastOpts  Options
}

// NewMockEngine returns an engine that finds nothing until scripted.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Init implements Engine.
func (m *MockEngine) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return m.InitErr
}

// LoadArtifacts implements Engine.
func (m *MockEngine) LoadArtifacts(ctx context.Context, artifacts []Artifact) error {
	m.mu.Lock()
	m.loadCalls++
	delay := m.LoadDelay
	err := m.LoadErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.loaded = append([]Artifact(nil), artifacts...)
	m.mu.Unlock()
	return nil
}

// Detect implements Engine.
func (m *MockEngine) Detect(ctx context.Context, jpeg []byte, opts Options) ([]Detection, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	m.lastOpts = opts
	res := m.Fallback
	if idx < len(m.Script) {
		res = m.Script[idx]
	}
	delay := m.Delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}
	return append([]Detection(nil), res.Detections...), nil
}

// Close implements Engine.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Detect was called.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MaxInFlight returns the highest number of concurrent Detect calls seen.
func (m *MockEngine) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxFlight
}

// InitCalls returns how many times Init was called.
func (m *MockEngine) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

// LoadCalls returns how many times LoadArtifacts was called.
func (m *MockEngine) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

// Loaded returns the artifacts passed to the last successful load.
func (m *MockEngine) Loaded() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Artifact(nil), m.loaded...)
}

// LastOptions returns the options of the most recent Detect call.
func (m *MockEngine) LastOptions() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// Closed reports whether Close was called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SampleDetection returns a plausible 68-point detection centred in a
// 640x480 frame, looking straight at the camera.
func SampleDetection(expr Expressions) Detection {
	points := make([]Point, 68)
	for i := range points {
		points[i] = Point{X: 320, Y: 240}
	}
	points[30] = Point{X: 320, Y: 250} // nose tip
	points[36] = Point{X: 280, Y: 210} // image-left eye outer corner
	points[45] = Point{X: 360, Y: 210} // image-right eye outer corner
	points[48] = Point{X: 295, Y: 290} // image-left mouth corner
	points[54] = Point{X: 345, Y: 290} // image-right mouth corner

	return Detection{
		Box:         Box{X: 250, Y: 160, W: 140, H: 170, Score: 0.93},
		Landmarks:   points,
		Layout:      Layout68,
		Expressions: expr,
		Age:         27.4,
		Gender:      "female",
	}
}
