// Package snapshot composes a captured frame, the overlay and a caption
// into a PNG that can be saved.
package snapshot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
)

// DateLayout is the date format used in captions and file names.
const DateLayout = "2006-01-02"

// ErrDecode is returned when the frame is not a decodable image.
var ErrDecode = errors.New("snapshot: cannot decode frame")

// Blender paints an overlay onto a BGR image. *overlay.Surface implements it.
type Blender interface {
	BlendOnto(dst *gocv.Mat) error
}

// FileName returns the export name for a snapshot taken at t.
func FileName(t time.Time) string {
	return "mood-map-" + t.Format(DateLayout) + ".png"
}

// Caption returns the footer text.
func Caption(attribution string, t time.Time) string {
	return fmt.Sprintf("%s - %s", attribution, t.Format(DateLayout))
}

// Compositor renders snapshots.
type Compositor struct {
	overlay     Blender
	attribution string
	now         func() time.Time
}

// NewCompositor returns a compositor that blends overlay (may be nil) into
// every snapshot and captions it with attribution.
func NewCompositor(overlay Blender, attribution string) *Compositor {
	return &Compositor{
		overlay:     overlay,
		attribution: attribution,
		now:         time.Now,
	}
}

// Composite decodes frame, blends the overlay, adds the caption and
// returns PNG bytes. The caption date is the analysis timestamp, or now
// when a is nil.
func (c *Compositor) Composite(frame camera.Frame, a *face.Analysis) ([]byte, error) {
	if frame.Empty() {
		return nil, ErrDecode
	}

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrDecode
	}

	if c.overlay != nil {
		if err := c.overlay.BlendOnto(&img); err != nil {
			return nil, fmt.Errorf("blend overlay: %w", err)
		}
	}

	at := c.now()
	if a != nil && !a.Timestamp.IsZero() {
		at = a.Timestamp
	}
	drawCaption(&img, Caption(c.attribution, at))

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// drawCaption writes text in the bottom-left corner on a dark strip.
func drawCaption(img *gocv.Mat, text string) {
	const (
		margin = 10
		scale  = 0.5
	)
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, scale, 1)
	base := image.Pt(margin, img.Rows()-margin)

	strip := image.Rect(base.X-4, base.Y-size.Y-6, base.X+size.X+4, base.Y+6)
	gocv.Rectangle(img, strip, color.RGBA{A: 255}, -1)
	gocv.PutText(img, text, base, gocv.FontHersheySimplex, scale, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)
}
