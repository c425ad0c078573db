package opencv

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/mood-map/internal/log"
	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
)

func TestDefaultManifest(t *testing.T) {
	m, err := DefaultManifest()
	require.NoError(t, err)
	assert.Equal(t, []string{
		ArtifactDetector, ArtifactCascade, ArtifactExpression, ArtifactAge, ArtifactGender,
	}, m.Names())
	assert.NoError(t, m.Validate())
}

func TestSoftmax(t *testing.T) {
	probs := softmax([]float32{1, 2, 3})
	require.Len(t, probs, 3)

	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, probs[2], probs[1])
	assert.Greater(t, probs[1], probs[0])
	assert.Nil(t, softmax(nil))
}

func TestExpressionsFromLogits(t *testing.T) {
	// neutral, happiness, surprise, sadness, anger, disgust, fear, contempt
	expr := expressionsFromLogits([]float32{0, 8, 0, 0, 0, 0, 0, 0})

	name, score := expr.Dominant()
	assert.Equal(t, face.Happy, name)
	assert.Greater(t, score, 0.99)
	assert.Contains(t, expr, "contempt")
	assert.Len(t, expr, 8)
}

func TestAgeFromProbs(t *testing.T) {
	tests := []struct {
		name  string
		probs []float32
		want  float64
	}{
		{"single bucket", []float32{0, 0, 0, 0, 1, 0, 0, 0}, 28.5},
		{"split", []float32{0, 0, 0, 0, 0.5, 0.5, 0, 0}, 34.5},
		{"unnormalized", []float32{0, 0, 0, 0, 2, 0, 0, 0}, 28.5},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ageFromProbs(tt.probs), 1e-9)
		})
	}
}

func TestGenderFromProbs(t *testing.T) {
	assert.Equal(t, "male", genderFromProbs([]float32{0.9, 0.1}))
	assert.Equal(t, "female", genderFromProbs([]float32{0.2, 0.8}))
	assert.Equal(t, "", genderFromProbs(nil))
}

func TestDetect_NotLoaded(t *testing.T) {
	e := New(log.Discard())
	defer e.Close()

	_, err := e.Detect(context.Background(), []byte{0xff, 0xd8}, face.DefaultOptions())
	assert.ErrorIs(t, err, face.ErrNotLoaded)

	_, err = e.Detect(context.Background(), nil, face.DefaultOptions())
	assert.ErrorIs(t, err, face.ErrEmptyFrame)
}

func TestLoadArtifacts_Errors(t *testing.T) {
	e := New(log.Discard())
	defer e.Close()
	ctx := context.Background()

	err := e.LoadArtifacts(ctx, []face.Artifact{{Name: "bogus"}})
	assert.ErrorIs(t, err, face.ErrUnknownArtifact)

	err = e.LoadArtifacts(ctx, []face.Artifact{{Name: ArtifactDetector, Files: []string{"/nonexistent/yunet.onnx"}}})
	assert.ErrorContains(t, err, "model file not found")

	err = e.LoadArtifacts(ctx, nil)
	assert.ErrorContains(t, err, "no face detector")
}

func TestClose_Idempotent(t *testing.T) {
	e := New(log.Discard())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Error(t, e.Init(context.Background()))
}

// modelDir returns a directory holding every manifest file, or skips.
func modelDir(t *testing.T) string {
	t.Helper()
	dir := os.Getenv("MOODMAP_MODEL_DIR")
	if dir == "" {
		dir = filepath.Join("..", "..", "..", "models")
	}

	m, err := DefaultManifest()
	require.NoError(t, err)
	for _, a := range m.Artifacts {
		for _, f := range a.Files {
			if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
				t.Skipf("model %s not found in %s, skipping", f, dir)
			}
		}
	}
	return dir
}

func TestEngine_WithModels(t *testing.T) {
	dir := modelDir(t)

	m, err := DefaultManifest()
	require.NoError(t, err)
	artifacts := make([]face.Artifact, len(m.Artifacts))
	for i, a := range m.Artifacts {
		artifacts[i] = face.Artifact{Name: a.Name}
		for _, f := range a.Files {
			artifacts[i].Files = append(artifacts[i].Files, filepath.Join(dir, f))
		}
	}

	e := New(log.Discard())
	defer e.Close()
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))
	require.NoError(t, e.LoadArtifacts(ctx, artifacts))

	blank, err := camera.SolidJPEG(640, 480, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	require.NoError(t, err)

	dets, err := e.Detect(ctx, blank, face.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, dets)

	_, err = e.Detect(ctx, []byte("not a jpeg"), face.DefaultOptions())
	assert.ErrorIs(t, err, face.ErrEmptyFrame)
}
