// Package face defines the face-analysis engine contract and the values that
// flow through mood-map: detections, expression scores, head pose and the
// immutable analysis result.
package face

import (
	"image"
	"math"
)

// Point is a landmark coordinate in frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a face bounding box in frame pixels, top-left origin.
type Box struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"width"`
	H     float64 `json:"height"`
	Score float64 `json:"score"`
}

// Area returns the area of the box.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Rect returns the box as an integer rectangle.
func (b Box) Rect() image.Rectangle {
	x0 := int(math.Round(b.X))
	y0 := int(math.Round(b.Y))
	return image.Rect(x0, y0, x0+int(math.Round(b.W)), y0+int(math.Round(b.H)))
}

// Layout identifies how a detection's landmark slice is indexed.
type Layout int

const (
	// Layout68 is the 68-point iBUG layout (face-api.js, dlib).
	Layout68 Layout = iota
	// Layout5 is the five-point layout produced by YuNet:
	// image-left eye, image-right eye, nose tip, image-left mouth, image-right mouth.
	Layout5
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case Layout68:
		return "68-point"
	case Layout5:
		return "5-point"
	default:
		return "unknown"
	}
}

// Detection is one face reported by an engine.
type Detection struct {
	Box         Box         `json:"box"`
	Landmarks   []Point     `json:"landmarks,omitempty"`
	Layout      Layout      `json:"layout"`
	Expressions Expressions `json:"expressions"`
	Age         float64     `json:"age"`
	Gender      string      `json:"gender"`
}

// SelectBest picks the face to report when an engine returns several.
// Priority: confidence * 0.7 + relative area * 0.3.
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}

	if len(dets) == 1 {
		return &dets[0]
	}

	maxArea := 0.0
	for _, d := range dets {
		if d.Box.Area() > maxArea {
			maxArea = d.Box.Area()
		}
	}

	bestScore := -1.0
	var best *Detection

	for i := range dets {
		rel := 0.0
		if maxArea > 0 {
			rel = dets[i].Box.Area() / maxArea
		}
		score := dets[i].Box.Score*0.7 + rel*0.3
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}

	return best
}
