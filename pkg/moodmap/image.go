package moodmap

import (
	"context"
	"time"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
	"github.com/teslashibe/mood-map/pkg/pose"
	"github.com/teslashibe/mood-map/pkg/scheduler"
)

// ImageDetector runs one detection. *scheduler.Scheduler implements it.
type ImageDetector interface {
	DetectOnce(ctx context.Context, frame camera.Frame) scheduler.Outcome
}

// AnalyzeImage analyses an uploaded still image outside the capture
// lifecycle. It shares the engine with the live view, so it waits for any
// detection in flight. An image without a face yields
// scheduler.ErrNoFaceDetected.
func AnalyzeImage(ctx context.Context, d ImageDetector, data []byte, at time.Time) (face.Analysis, error) {
	out := d.DetectOnce(ctx, camera.Frame{Data: data, CapturedAt: at})
	switch out.Kind {
	case scheduler.Found:
		return face.NewAnalysis(out.Detection, pose.FromDetection(out.Detection), at), nil
	case scheduler.Empty:
		return face.Analysis{}, scheduler.ErrNoFaceDetected
	default:
		return face.Analysis{}, out.Err
	}
}
