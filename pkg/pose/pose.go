// Package pose derives a coarse head orientation from five facial landmarks.
//
// The estimate is a fixed geometric approximation, not a calibrated 3-D
// solver: it exists to give visual feedback next to the expression report.
package pose

import (
	"math"

	"github.com/teslashibe/mood-map/pkg/face"
)

// Indices names the landmark positions the estimator reads.
type Indices struct {
	Nose       int
	LeftEye    int // outer corner of the eye on the image-left side
	RightEye   int // outer corner of the eye on the image-right side
	LeftMouth  int
	RightMouth int
}

// max returns the largest index, i.e. the minimum landmark count minus one.
func (ix Indices) max() int {
	m := ix.Nose
	for _, v := range []int{ix.LeftEye, ix.RightEye, ix.LeftMouth, ix.RightMouth} {
		if v > m {
			m = v
		}
	}
	return m
}

// Landmark indices for the supported layouts.
var (
	Indices68 = Indices{Nose: 30, LeftEye: 36, RightEye: 45, LeftMouth: 48, RightMouth: 54}
	Indices5  = Indices{Nose: 2, LeftEye: 0, RightEye: 1, LeftMouth: 3, RightMouth: 4}
)

// IndicesFor returns the index table of a layout.
func IndicesFor(layout face.Layout) (Indices, bool) {
	switch layout {
	case face.Layout68:
		return Indices68, true
	case face.Layout5:
		return Indices5, true
	default:
		return Indices{}, false
	}
}

// Estimate computes the head pose from 68-point landmarks.
// Returns the zero pose when the landmarks are incomplete.
func Estimate(points []face.Point) face.HeadPose {
	return EstimateIndices(points, Indices68)
}

// EstimateLayout computes the head pose for landmarks in the given layout.
func EstimateLayout(points []face.Point, layout face.Layout) face.HeadPose {
	ix, ok := IndicesFor(layout)
	if !ok {
		return face.HeadPose{}
	}
	return EstimateIndices(points, ix)
}

// FromDetection estimates the pose of a detection using its own layout.
func FromDetection(det face.Detection) face.HeadPose {
	return EstimateLayout(det.Landmarks, det.Layout)
}

// EstimateIndices computes the head pose reading landmarks at ix.
func EstimateIndices(points []face.Point, ix Indices) face.HeadPose {
	if len(points) <= ix.max() {
		return face.HeadPose{}
	}

	leftEye := points[ix.LeftEye]
	rightEye := points[ix.RightEye]
	leftMouth := points[ix.LeftMouth]
	rightMouth := points[ix.RightMouth]

	for _, p := range []face.Point{points[ix.Nose], leftEye, rightEye, leftMouth, rightMouth} {
		if !finite(p.X) || !finite(p.Y) {
			return face.HeadPose{}
		}
	}

	eyeCenter := midpoint(leftEye, rightEye)
	mouthCenter := midpoint(leftMouth, rightMouth)

	yaw := math.Atan2(rightEye.X-leftEye.X, rightEye.Y-leftEye.Y)
	pitch := math.Atan2(mouthCenter.Y-eyeCenter.Y, math.Abs(mouthCenter.X-eyeCenter.X))
	roll := math.Atan2(rightEye.Y-leftEye.Y, rightEye.X-leftEye.X)

	return face.HeadPose{
		Pitch: roundDegrees(pitch),
		Yaw:   roundDegrees(yaw),
		Roll:  roundDegrees(roll),
	}
}

func midpoint(a, b face.Point) face.Point {
	return face.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// roundDegrees converts radians to whole degrees, halves rounding up.
func roundDegrees(rad float64) int {
	return int(math.Floor(rad*180/math.Pi + 0.5))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
