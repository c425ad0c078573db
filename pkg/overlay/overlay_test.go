package overlay

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/mood-map/pkg/face"
	"github.com/teslashibe/mood-map/pkg/pose"
)

func sample() (face.Detection, face.Analysis) {
	det := face.SampleDetection(face.Expressions{"happy": 0.82, "neutral": 0.10, "sad": 0.08})
	return det, face.NewAnalysis(det, pose.FromDetection(det), time.Now())
}

func alphaAt(s *Surface, x, y int) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mat.GetVecbAt(y, x)[3]
}

func TestLabels(t *testing.T) {
	_, a := sample()
	assert.Equal(t, []string{
		"27 years old female",
		"happy (0.82)",
		"Angles: P:90 Y:90 R:0",
	}, Labels(a))
}

func TestSurface_DrawAndClear(t *testing.T) {
	s := NewSurface(640, 480, DefaultStyle())
	defer s.Close()

	w, h := s.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
	assert.False(t, s.Drawn())

	det, a := sample()
	require.NoError(t, s.Draw(det, a))
	assert.True(t, s.Drawn())

	// Left edge of the box is opaque emerald.
	px := func() gocv.Vecb {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.mat.GetVecbAt(det.Box.Rect().Min.Y+50, det.Box.Rect().Min.X)
	}()
	assert.Equal(t, gocv.Vecb{129, 185, 16, 255}, px)

	// Inside the box stays transparent.
	assert.Equal(t, uint8(0), alphaAt(s, 320, 245))

	// Label background sits above the box.
	assert.NotEqual(t, uint8(0), alphaAt(s, det.Box.Rect().Min.X+1, det.Box.Rect().Min.Y-12))

	s.Clear()
	assert.False(t, s.Drawn())
	assert.Equal(t, uint8(0), alphaAt(s, det.Box.Rect().Min.X, det.Box.Rect().Min.Y+50))
}

func TestSurface_DrawWithoutSize(t *testing.T) {
	s := NewSurface(0, 0, DefaultStyle())
	defer s.Close()

	det, a := sample()
	assert.ErrorIs(t, s.Draw(det, a), ErrNotSized)

	s.Resize(320, 240)
	w, h := s.Size()
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)
	assert.NoError(t, s.Draw(det, a))
}

func TestSurface_ResizeClears(t *testing.T) {
	s := NewSurface(640, 480, DefaultStyle())
	defer s.Close()

	det, a := sample()
	require.NoError(t, s.Draw(det, a))
	s.Resize(1280, 720)
	assert.False(t, s.Drawn())
	w, _ := s.Size()
	assert.Equal(t, 1280, w)
}

func TestSurface_BlendOnto(t *testing.T) {
	s := NewSurface(640, 480, DefaultStyle())
	defer s.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// Nothing drawn leaves the frame untouched.
	require.NoError(t, s.BlendOnto(&frame))
	assert.Equal(t, gocv.Vecb{0, 0, 0}, frame.GetVecbAt(10, 10))

	det, a := sample()
	require.NoError(t, s.Draw(det, a))
	require.NoError(t, s.BlendOnto(&frame))

	r := det.Box.Rect()
	assert.Equal(t, gocv.Vecb{129, 185, 16}, frame.GetVecbAt(r.Min.Y+50, r.Min.X))
	assert.Equal(t, gocv.Vecb{0, 0, 0}, frame.GetVecbAt(r.Min.Y+50, r.Min.X+40))
}

func TestSurface_BlendOntoScales(t *testing.T) {
	s := NewSurface(320, 240, DefaultStyle())
	defer s.Close()

	det, a := sample()
	det.Box = face.Box{X: 40, Y: 100, W: 100, H: 100, Score: 0.9}
	require.NoError(t, s.Draw(det, a))

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()
	require.NoError(t, s.BlendOnto(&frame))
	assert.Equal(t, 640, frame.Cols())
}

func TestSurface_PNG(t *testing.T) {
	s := NewSurface(64, 48, DefaultStyle())
	defer s.Close()

	data, err := s.PNG()
	require.NoError(t, err)
	img, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 4, img.Channels())
	assert.Equal(t, image.Pt(64, 48), image.Pt(img.Cols(), img.Rows()))
}

func TestSurface_CloseIsIdempotent(t *testing.T) {
	s := NewSurface(64, 48, DefaultStyle())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	det, a := sample()
	assert.ErrorIs(t, s.Draw(det, a), ErrNotSized)
	w, h := s.Size()
	assert.Zero(t, w+h)
}
