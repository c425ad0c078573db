package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/mood-map/internal/log"
	"github.com/teslashibe/mood-map/pkg/face"
)

var fiveNets = ManifestOf("tiny_face_detector", "face_landmark_68", "face_recognition", "face_expression", "age_gender")

func TestEnsureLoaded_Ready(t *testing.T) {
	engine := face.NewMockEngine()
	b := New(engine, fiveNets, Config{}, log.Discard())

	assert.Equal(t, StatusUnloaded, b.State().Status)
	require.NoError(t, b.EnsureLoaded(context.Background()))

	assert.True(t, b.Ready())
	assert.Equal(t, 1, engine.InitCalls())
	assert.Equal(t, 1, engine.LoadCalls())
	assert.Len(t, engine.Loaded(), 5)

	// Later callers do not reload.
	require.NoError(t, b.EnsureLoaded(context.Background()))
	assert.Equal(t, 1, engine.LoadCalls())
}

func TestEnsureLoaded_ConcurrentCallersShareLoad(t *testing.T) {
	engine := face.NewMockEngine()
	engine.LoadDelay = 50 * time.Millisecond
	b := New(engine, fiveNets, Config{}, log.Discard())

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.EnsureLoaded(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, engine.InitCalls())
	assert.Equal(t, 1, engine.LoadCalls())
}

func TestEnsureLoaded_FailureIsFinal(t *testing.T) {
	engine := face.NewMockEngine()
	engine.LoadErr = errors.New("corrupt weights")
	b := New(engine, fiveNets, Config{}, log.Discard())

	err := b.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, ErrModelLoadFailure)
	assert.Contains(t, err.Error(), "corrupt weights")

	st := b.State()
	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, ErrModelLoadFailure)

	err = b.EnsureLoaded(context.Background())
	assert.ErrorIs(t, err, ErrModelLoadFailure)
	assert.Equal(t, 1, engine.LoadCalls())
}

func TestEnsureLoaded_InitFailure(t *testing.T) {
	engine := face.NewMockEngine()
	engine.InitErr = errors.New("no runtime")
	b := New(engine, fiveNets, Config{}, log.Discard())

	err := b.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, ErrModelLoadFailure)
	assert.Equal(t, 0, engine.LoadCalls())
}

func TestEnsureLoaded_WaitBoundedByCallerContext(t *testing.T) {
	engine := face.NewMockEngine()
	engine.LoadDelay = 100 * time.Millisecond
	b := New(engine, fiveNets, Config{}, log.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.EnsureLoaded(ctx), context.DeadlineExceeded)

	// The shared load keeps going and a later caller sees it finish.
	require.NoError(t, b.EnsureLoaded(context.Background()))
	assert.Equal(t, 1, engine.LoadCalls())
}

func TestEnsureLoaded_ProgressEvents(t *testing.T) {
	engine := face.NewMockEngine()
	b := New(engine, fiveNets, Config{}, log.Discard())

	var mu sync.Mutex
	var seen []State
	b.OnChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	require.NoError(t, b.EnsureLoaded(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 3)
	assert.Equal(t, State{Status: StatusLoading, Progress: ProgressRuntime}, seen[0])
	assert.Equal(t, "Loading AI models (0/5)...", seen[1].Progress)
	var progress []string
	for _, st := range seen {
		progress = append(progress, st.Progress)
	}
	assert.Contains(t, progress, "Loading AI models (5/5)...")
	assert.Equal(t, StatusReady, seen[len(seen)-1].Status)
}

func TestEnsureLoaded_ProgressNeverGoesBackwards(t *testing.T) {
	for range 20 {
		engine := face.NewMockEngine()
		b := New(engine, fiveNets, Config{}, log.Discard())

		var mu sync.Mutex
		var counts []int
		b.OnChange(func(st State) {
			var n, total int
			if _, err := fmt.Sscanf(st.Progress, progressModels, &n, &total); err != nil {
				return
			}
			mu.Lock()
			counts = append(counts, n)
			mu.Unlock()
		})

		require.NoError(t, b.EnsureLoaded(context.Background()))

		mu.Lock()
		require.Len(t, counts, 6)
		assert.IsNonDecreasing(t, counts)
		assert.Equal(t, 5, counts[len(counts)-1])
		mu.Unlock()
	}
}

func TestEnsureLoaded_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detector.onnx"), []byte("onnx"), 0o644))

	m := Manifest{Artifacts: []face.Artifact{{Name: "face_detector", Files: []string{"detector.onnx"}}}}
	engine := face.NewMockEngine()
	b := New(engine, m, Config{Dir: dir}, log.Discard())

	require.NoError(t, b.EnsureLoaded(context.Background()))
	loaded := engine.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, []string{filepath.Join(dir, "detector.onnx")}, loaded[0].Files)
}

func TestEnsureLoaded_DownloadsMissingFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weights/age_net.caffemodel" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("caffe"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := Manifest{Artifacts: []face.Artifact{{Name: "age_estimator", Files: []string{"age_net.caffemodel"}}}}
	engine := face.NewMockEngine()
	b := New(engine, m, Config{Dir: dir, BaseURL: srv.URL + "/weights"}, log.Discard())

	require.NoError(t, b.EnsureLoaded(context.Background()))
	data, err := os.ReadFile(filepath.Join(dir, "age_net.caffemodel"))
	require.NoError(t, err)
	assert.Equal(t, "caffe", string(data))
}

func TestEnsureLoaded_MissingFileWithoutBaseURL(t *testing.T) {
	m := Manifest{Artifacts: []face.Artifact{{Name: "face_detector", Files: []string{"missing.onnx"}}}}
	engine := face.NewMockEngine()
	b := New(engine, m, Config{Dir: t.TempDir()}, log.Discard())

	err := b.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, ErrModelLoadFailure)
	assert.Contains(t, err.Error(), "missing.onnx")
	assert.Equal(t, 0, engine.LoadCalls())
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
artifacts:
  - name: face_detector
    files: [yunet.onnx]
  - name: age_estimator
    files: [age_net.caffemodel, age_deploy.prototxt]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"face_detector", "age_estimator"}, m.Names())
	assert.Equal(t, []string{"age_net.caffemodel", "age_deploy.prototxt"}, m.Artifacts[1].Files)

	_, err = ParseManifest([]byte("artifacts: []"))
	assert.Error(t, err)

	_, err = ParseManifest([]byte("artifacts:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseManifest([]byte("artifacts: [\n"))
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "unloaded", StatusUnloaded.String())
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
}
