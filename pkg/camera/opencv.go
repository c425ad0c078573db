package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// OpenCVDevice opens local cameras, files or stream URLs through OpenCV.
// FacingMode is ignored; pick the device with DeviceID instead.
type OpenCVDevice struct{}

// NewOpenCVDevice returns the OpenCV-backed capture device.
func NewOpenCVDevice() *OpenCVDevice {
	return &OpenCVDevice{}
}

// RequestStream implements Device.
func (d *OpenCVDevice) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.DeviceID
	if id == "" {
		id = "0"
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPermissionDenied, id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %s not available", ErrPermissionDenied, id)
	}

	// Hints only; the driver may pick another mode.
	if c.Width > 0 && c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.Framerate))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	quality := c.Quality
	if quality <= 0 {
		quality = 85
	}

	return &openCVStream{vc: vc, quality: quality}, nil
}

type openCVStream struct {
	mu      sync.Mutex
	vc      *gocv.VideoCapture
	quality int
	stopped bool
}

// Read grabs one frame and encodes it as JPEG.
func (s *openCVStream) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Frame{}, ErrSessionClosed
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := s.vc.Read(&img); !ok || img.Empty() {
		return Frame{}, ErrNoFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), s.quality})
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)

	return Frame{
		Data:       data,
		Width:      img.Cols(),
		Height:     img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// StopAllTracks closes the capture handle.
func (s *openCVStream) StopAllTracks() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.vc.Close()
}
