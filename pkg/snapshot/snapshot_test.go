package snapshot

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
	"github.com/teslashibe/mood-map/pkg/overlay"
	"github.com/teslashibe/mood-map/pkg/pose"
)

func testFrame(t *testing.T) camera.Frame {
	t.Helper()
	data, err := camera.SolidJPEG(640, 480, color.RGBA{R: 40, G: 40, B: 40, A: 255})
	require.NoError(t, err)
	return camera.Frame{Data: data, Width: 640, Height: 480}
}

type failingBlender struct{}

func (failingBlender) BlendOnto(*gocv.Mat) error { return errors.New("boom") }

func TestFileName(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "mood-map-2026-03-07.png", FileName(at))
	assert.Equal(t, "Mood Map - 2026-03-07", Caption("Mood Map", at))
}

func TestComposite(t *testing.T) {
	surface := overlay.NewSurface(640, 480, overlay.DefaultStyle())
	defer surface.Close()

	det := face.SampleDetection(face.Expressions{"happy": 0.82})
	a := face.NewAnalysis(det, pose.FromDetection(det), time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	require.NoError(t, surface.Draw(det, a))

	c := NewCompositor(surface, "Mood Map")
	data, err := c.Composite(testFrame(t), &a)
	require.NoError(t, err)

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 640, img.Cols())
	assert.Equal(t, 480, img.Rows())

	r := det.Box.Rect()
	assert.Equal(t, gocv.Vecb{129, 185, 16}, img.GetVecbAt(r.Min.Y+50, r.Min.X))
	// Caption strip is dark.
	assert.Equal(t, gocv.Vecb{0, 0, 0}, img.GetVecbAt(474, 7))
}

func TestComposite_WithoutOverlay(t *testing.T) {
	c := NewCompositor(nil, "Mood Map")
	data, err := c.Composite(testFrame(t), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestComposite_Errors(t *testing.T) {
	c := NewCompositor(nil, "Mood Map")

	_, err := c.Composite(camera.Frame{}, nil)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Composite(camera.Frame{Data: []byte("not an image")}, nil)
	assert.ErrorIs(t, err, ErrDecode)

	c = NewCompositor(failingBlender{}, "Mood Map")
	_, err = c.Composite(testFrame(t), nil)
	assert.ErrorContains(t, err, "boom")
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink := FileSink{Dir: dir}

	require.NoError(t, sink.Save(context.Background(), "mood-map-2026-03-07.png", []byte("png")))
	data, err := os.ReadFile(sink.Path("mood-map-2026-03-07.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	assert.Error(t, sink.Save(context.Background(), "../escape.png", []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Save(ctx, "a.png", nil), context.Canceled)
}
