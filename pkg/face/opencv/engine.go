// Package opencv implements face.Engine on OpenCV: YuNet finds faces and
// five landmarks, FER+ scores expressions and the Levi-Hassner Caffe
// networks estimate age and gender. A Haar cascade can stand in for YuNet.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/mood-map/pkg/face"
)

var errClosed = errors.New("opencv: engine closed")

// Engine is the OpenCV face engine. Detect calls are serialized; OpenCV
// nets are not safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	log *slog.Logger

	detector   *gocv.FaceDetectorYN
	cascade    *gocv.CascadeClassifier
	expression *gocv.Net
	age        *gocv.Net
	gender     *gocv.Net

	closed bool
}

// New returns an engine with nothing loaded.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{log: logger}
}

// Init implements face.Engine.
func (e *Engine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	e.log.Info("opencv runtime ready", "gocv", gocv.Version(), "opencv", gocv.OpenCVVersion())
	return nil
}

// loaded holds models read by LoadArtifacts before they replace the
// engine's current set.
type loaded struct {
	detector   *gocv.FaceDetectorYN
	cascade    *gocv.CascadeClassifier
	expression *gocv.Net
	age        *gocv.Net
	gender     *gocv.Net
}

func (l *loaded) close() {
	if l.detector != nil {
		l.detector.Close()
	}
	if l.cascade != nil {
		l.cascade.Close()
	}
	for _, n := range []*gocv.Net{l.expression, l.age, l.gender} {
		if n != nil {
			n.Close()
		}
	}
}

// LoadArtifacts implements face.Engine. A detector (YuNet or cascade) and
// the expression network are required; age and gender are optional.
func (e *Engine) LoadArtifacts(ctx context.Context, artifacts []face.Artifact) error {
	var l loaded
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			l.close()
			return err
		}
		if err := l.load(a); err != nil {
			l.close()
			return fmt.Errorf("load %s: %w", a.Name, err)
		}
	}

	if l.detector == nil && l.cascade == nil {
		l.close()
		return fmt.Errorf("no face detector among %d artifacts", len(artifacts))
	}
	if l.expression == nil {
		l.close()
		return fmt.Errorf("no %s artifact", ArtifactExpression)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		l.close()
		return errClosed
	}
	old := loaded{e.detector, e.cascade, e.expression, e.age, e.gender}
	old.close()
	e.detector, e.cascade, e.expression, e.age, e.gender = l.detector, l.cascade, l.expression, l.age, l.gender

	e.log.Info("opencv models loaded",
		"yunet", l.detector != nil,
		"cascade", l.cascade != nil,
		"age", l.age != nil,
		"gender", l.gender != nil)
	return nil
}

func (l *loaded) load(a face.Artifact) error {
	switch a.Name {
	case ArtifactDetector:
		path, err := fileWithExt(a.Files, ".onnx")
		if err != nil {
			return err
		}
		det := gocv.NewFaceDetectorYN(path, "", image.Pt(320, 320))
		l.detector = &det

	case ArtifactCascade:
		path, err := fileWithExt(a.Files, ".xml")
		if err != nil {
			return err
		}
		c := gocv.NewCascadeClassifier()
		if !c.Load(path) {
			c.Close()
			return fmt.Errorf("cannot read cascade %s", path)
		}
		l.cascade = &c

	case ArtifactExpression:
		path, err := fileWithExt(a.Files, ".onnx")
		if err != nil {
			return err
		}
		n := gocv.ReadNetFromONNX(path)
		if n.Empty() {
			return fmt.Errorf("cannot read network %s", path)
		}
		l.expression = &n

	case ArtifactAge, ArtifactGender:
		proto, err := fileWithExt(a.Files, ".prototxt")
		if err != nil {
			return err
		}
		weights, err := fileWithExt(a.Files, ".caffemodel")
		if err != nil {
			return err
		}
		n := gocv.ReadNetFromCaffe(proto, weights)
		if n.Empty() {
			return fmt.Errorf("cannot read network %s", weights)
		}
		if a.Name == ArtifactAge {
			l.age = &n
		} else {
			l.gender = &n
		}

	default:
		return fmt.Errorf("%w: %s", face.ErrUnknownArtifact, a.Name)
	}
	return nil
}

// fileWithExt returns the first existing file with the extension.
func fileWithExt(files []string, ext string) (string, error) {
	for _, f := range files {
		if filepath.Ext(f) != ext {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return "", fmt.Errorf("model file not found: %s", f)
		}
		return f, nil
	}
	return "", fmt.Errorf("no %s file", ext)
}

// Detect implements face.Engine.
func (e *Engine) Detect(ctx context.Context, jpeg []byte, opts face.Options) ([]face.Detection, error) {
	if len(jpeg) == 0 {
		return nil, face.ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errClosed
	}
	if e.detector == nil && e.cascade == nil {
		return nil, face.ErrNotLoaded
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrEmptyFrame, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, face.ErrEmptyFrame
	}

	var dets []face.Detection
	if e.detector != nil {
		dets = e.detectYuNet(img, opts)
	} else {
		dets = e.detectCascade(img)
	}

	for i := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.describe(img, &dets[i])
	}

	if len(dets) > 0 {
		e.log.Debug("faces detected", "count", len(dets))
	}
	return dets, nil
}

// detectYuNet runs YuNet on a copy scaled so its longer side is at most
// opts.InputSize, then maps boxes and landmarks back to frame pixels.
func (e *Engine) detectYuNet(img gocv.Mat, opts face.Options) []face.Detection {
	scale := 1.0
	if longest := max(img.Cols(), img.Rows()); opts.InputSize > 0 && longest > opts.InputSize {
		scale = float64(opts.InputSize) / float64(longest)
	}

	input := img
	if scale < 1 {
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(img, &small, image.Point{}, scale, scale, gocv.InterpolationArea)
		input = small
	}

	e.detector.SetInputSize(image.Pt(input.Cols(), input.Rows()))
	if opts.ScoreThreshold > 0 {
		e.detector.SetScoreThreshold(float32(opts.ScoreThreshold))
	}

	faces := gocv.NewMat()
	defer faces.Close()
	e.detector.Detect(input, &faces)

	// Each row: box x, y, w, h; five landmark (x, y) pairs; score.
	at := func(r, c int) float64 { return float64(faces.GetFloatAt(r, c)) / scale }

	dets := make([]face.Detection, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		det := face.Detection{
			Box: face.Box{
				X:     at(r, 0),
				Y:     at(r, 1),
				W:     at(r, 2),
				H:     at(r, 3),
				Score: float64(faces.GetFloatAt(r, 14)),
			},
			Layout: face.Layout5,
		}
		for p := 0; p < 5; p++ {
			det.Landmarks = append(det.Landmarks, face.Point{X: at(r, 4+2*p), Y: at(r, 5+2*p)})
		}
		dets = append(dets, det)
	}
	return dets
}

// detectCascade is the fallback detector. Cascade hits carry no
// confidence or landmarks, so they score 1 and yield a zero pose.
func (e *Engine) detectCascade(img gocv.Mat) []face.Detection {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	rects := e.cascade.DetectMultiScale(gray)
	dets := make([]face.Detection, 0, len(rects))
	for _, r := range rects {
		dets = append(dets, face.Detection{
			Box: face.Box{
				X:     float64(r.Min.X),
				Y:     float64(r.Min.Y),
				W:     float64(r.Dx()),
				H:     float64(r.Dy()),
				Score: 1,
			},
			Layout: face.Layout5,
		})
	}
	return dets
}

// describe fills expressions, age and gender from the face crop.
func (e *Engine) describe(img gocv.Mat, det *face.Detection) {
	rect := det.Box.Rect().Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if rect.Empty() {
		det.Expressions = face.Expressions{face.Neutral: 1}
		det.Gender = "unknown"
		return
	}

	roi := img.Region(rect)
	defer roi.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)

	det.Expressions = expressionsFromLogits(forward(e.expression, gray, 1, image.Pt(64, 64), gocv.NewScalar(0, 0, 0, 0)))

	mean := gocv.NewScalar(ageNetMean[0], ageNetMean[1], ageNetMean[2], 0)
	if e.age != nil {
		det.Age = math.Round(ageFromProbs(forward(e.age, roi, 1, image.Pt(227, 227), mean))*10) / 10
	}
	det.Gender = "unknown"
	if e.gender != nil {
		if g := genderFromProbs(forward(e.gender, roi, 1, image.Pt(227, 227), mean)); g != "" {
			det.Gender = g
		}
	}
}

// forward runs one network on src and copies its flat output.
func forward(net *gocv.Net, src gocv.Mat, scale float64, size image.Point, mean gocv.Scalar) []float32 {
	blob := gocv.BlobFromImage(src, scale, size, mean, false, false)
	defer blob.Close()

	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil
	}
	return append([]float32(nil), data...)
}

// Close implements face.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	l := loaded{e.detector, e.cascade, e.expression, e.age, e.gender}
	l.close()
	e.detector, e.cascade, e.expression, e.age, e.gender = nil, nil, nil, nil, nil
	return nil
}
