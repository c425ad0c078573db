// Package overlay draws analysis results onto a transparent surface the
// size of the live frame.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/mood-map/pkg/face"
)

// ErrNotSized is returned by Draw before the surface has a size.
var ErrNotSized = errors.New("overlay: surface has no size")

// Style controls colours and label geometry.
type Style struct {
	Box        color.RGBA
	Background color.RGBA
	Text       color.RGBA
	Thickness  int
	Font       gocv.HersheyFont
	FontScale  float64
	LineHeight int // vertical distance between stacked labels
	Padding    int // horizontal text padding inside the label background
}

// DefaultStyle is emerald #10B981 with 80% opaque label backgrounds.
func DefaultStyle() Style {
	return Style{
		Box:        color.RGBA{R: 16, G: 185, B: 129, A: 255},
		Background: color.RGBA{R: 16, G: 185, B: 129, A: 204},
		Text:       color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Thickness:  2,
		Font:       gocv.FontHersheySimplex,
		FontScale:  0.5,
		LineHeight: 20,
		Padding:    4,
	}
}

// Labels returns the lines shown above a face, top to bottom.
func Labels(a face.Analysis) []string {
	return []string{a.AgeLabel(), a.EmotionLabel(), a.PoseLabel()}
}

// Surface is a BGRA image where transparent pixels have alpha 0.
// It is safe for concurrent use.
type Surface struct {
	mu     sync.Mutex
	mat    gocv.Mat
	style  Style
	drawn  bool
	closed bool
}

// NewSurface creates a surface of w x h. A zero size is allowed and can be
// fixed later with Resize.
func NewSurface(w, h int, style Style) *Surface {
	s := &Surface{style: style, mat: gocv.NewMat()}
	s.Resize(w, h)
	return s
}

// Resize makes the surface w x h and clears it.
func (s *Surface) Resize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if w <= 0 || h <= 0 {
		s.mat.Close()
		s.mat = gocv.NewMat()
		s.drawn = false
		return
	}
	if s.mat.Cols() == w && s.mat.Rows() == h {
		s.clear()
		return
	}
	s.mat.Close()
	s.mat = gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC4)
	s.clear()
}

// Size returns the surface dimensions.
func (s *Surface) Size() (w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0
	}
	return s.mat.Cols(), s.mat.Rows()
}

// Clear makes every pixel transparent.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *Surface) clear() {
	if !s.empty() {
		s.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
	}
	s.drawn = false
}

// Drawn reports whether a detection is currently shown.
func (s *Surface) Drawn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawn
}

// Draw replaces the surface content with det's box and the labels of a.
func (s *Surface) Draw(det face.Detection, a face.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.empty() {
		return ErrNotSized
	}
	s.clear()

	st := s.style
	box := det.Box.Rect()
	gocv.Rectangle(&s.mat, box, st.Box, st.Thickness)

	labels := Labels(a)
	for i, label := range labels {
		y := box.Min.Y - 10 - (len(labels)-1-i)*st.LineHeight
		size := gocv.GetTextSize(label, st.Font, st.FontScale, 1)

		bg := image.Rect(box.Min.X, y-16, box.Min.X+size.X+2*st.Padding, y-16+st.LineHeight)
		gocv.Rectangle(&s.mat, bg, st.Background, -1)
		gocv.PutText(&s.mat, label, image.Pt(box.Min.X+st.Padding, y-2), st.Font, st.FontScale, st.Text, 1)
	}

	s.drawn = true
	return nil
}

// BlendOnto alpha-blends the surface onto dst, a BGR image. The surface
// is scaled when sizes differ. Nothing happens while the surface is clear.
func (s *Surface) BlendOnto(dst *gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.drawn || s.empty() {
		return nil
	}
	if dst.Empty() {
		return fmt.Errorf("blend: empty destination")
	}

	src := s.mat
	if src.Cols() != dst.Cols() || src.Rows() != dst.Rows() {
		scaled := gocv.NewMat()
		defer scaled.Close()
		gocv.Resize(s.mat, &scaled, image.Pt(dst.Cols(), dst.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)
		src = scaled
	}

	channels := gocv.Split(src)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	if len(channels) != 4 {
		return fmt.Errorf("blend: expected 4 channels, got %d", len(channels))
	}
	alpha := channels[3]

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)

	// Translucent pixels (label backgrounds) are mixed with the frame,
	// opaque pixels (box and text) replace it.
	mixed := gocv.NewMat()
	defer mixed.Close()
	a := float64(s.style.Background.A) / 255
	gocv.AddWeighted(*dst, 1-a, bgr, a, 0, &mixed)

	visible := gocv.NewMat()
	defer visible.Close()
	gocv.Threshold(alpha, &visible, 0, 255, gocv.ThresholdBinary)
	mixed.CopyToWithMask(dst, visible)

	opaque := gocv.NewMat()
	defer opaque.Close()
	gocv.Threshold(alpha, &opaque, 254, 255, gocv.ThresholdBinary)
	bgr.CopyToWithMask(dst, opaque)

	return nil
}

// PNG encodes the surface with its alpha channel.
func (s *Surface) PNG() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.empty() {
		return nil, ErrNotSized
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, s.mat)
	if err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close frees the underlying image.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.drawn = false
	return s.mat.Close()
}

func (s *Surface) empty() bool {
	return s.closed || s.mat.Empty()
}
