package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// MockDevice is an in-memory Device for tests and the demo server.
// It serves solid-colour JPEG frames of ActualWidth x ActualHeight,
// regardless of the requested size.
type MockDevice struct {
	mu sync.Mutex

	ActualWidth  int
	ActualHeight int
	Color        color.RGBA

	// Deny makes RequestStream fail with ErrPermissionDenied.
	Deny bool
	// FrameErr makes every Read fail.
	FrameErr error
	// FrameDelay is applied to every Read.
	FrameDelay time.Duration

	requests int
	open     int
	stops    int
	last     Constraints
}

// NewMockDevice returns a device producing 640x480 grey frames.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		ActualWidth:  640,
		ActualHeight: 480,
		Color:        color.RGBA{R: 128, G: 128, B: 128, A: 255},
	}
}

// RequestStream implements Device.
func (d *MockDevice) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests++
	d.last = c

	if d.Deny {
		return nil, ErrPermissionDenied
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := SolidJPEG(d.ActualWidth, d.ActualHeight, d.Color)
	if err != nil {
		return nil, err
	}

	d.open++
	return &mockStream{device: d, frame: frame}, nil
}

// Requests returns how many streams were requested.
func (d *MockDevice) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

// OpenStreams returns how many streams are open and not yet stopped.
func (d *MockDevice) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Stops returns how many streams were stopped.
func (d *MockDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// SetFrameErr changes FrameErr while streams may be reading.
func (d *MockDevice) SetFrameErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FrameErr = err
}

// LastConstraints returns the most recent request.
func (d *MockDevice) LastConstraints() Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type mockStream struct {
	device  *MockDevice
	frame   []byte
	mu      sync.Mutex
	stopped bool
}

func (s *mockStream) Read(ctx context.Context) (Frame, error) {
	s.device.mu.Lock()
	delay := s.device.FrameDelay
	frameErr := s.device.FrameErr
	w, h := s.device.ActualWidth, s.device.ActualHeight
	s.device.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Frame{}, ErrSessionClosed
	}
	if frameErr != nil {
		return Frame{}, frameErr
	}

	return Frame{
		Data:       s.frame,
		Width:      w,
		Height:     h,
		CapturedAt: time.Now(),
	}, nil
}

func (s *mockStream) StopAllTracks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	s.device.mu.Lock()
	s.device.open--
	s.device.stops++
	s.device.mu.Unlock()
	return nil
}

// SolidJPEG encodes a w x h image filled with c.
func SolidJPEG(w, h int, c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
