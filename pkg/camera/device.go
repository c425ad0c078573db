package camera

import (
	"context"
	"time"
)

// Frame is one JPEG-encoded video frame with its actual dimensions.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// Empty reports whether the frame carries no image.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Constraints is a stream request. Width, Height and Framerate are hints.
type Constraints struct {
	Width      int
	Height     int
	Framerate  int
	Quality    int
	FacingMode string
	DeviceID   string
}

// Device is the capture device API.
type Device interface {
	// RequestStream opens a stream. It fails with ErrPermissionDenied when
	// access is refused or no camera exists.
	RequestStream(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open device handle.
type Stream interface {
	// Read blocks until the next frame is available.
	Read(ctx context.Context) (Frame, error)

	// StopAllTracks stops the hardware stream. Safe to call more than once.
	StopAllTracks() error
}
