package web

import (
	"fmt"
	"math"

	"github.com/teslashibe/mood-map/pkg/face"
)

// Report is the image analysis payload. Fields are strings so a failed
// analysis can answer with "unknown" in the same shape.
type Report struct {
	Error            string             `json:"error,omitempty"`
	Age              string             `json:"age"`
	Gender           string             `json:"gender"`
	Emotion          string             `json:"emotion"`
	Angle            face.HeadPose      `json:"angle"`
	DetailedEmotions map[string]float64 `json:"detailed_emotions,omitempty"`
	ImageIndex       *int               `json:"image_index,omitempty"`
	Filename         string             `json:"filename,omitempty"`
}

// NewReport converts an analysis.
func NewReport(a face.Analysis) Report {
	detailed := make(map[string]float64, len(a.Expressions))
	for k, v := range a.Expressions {
		detailed[k] = math.Round(v*1000) / 1000
	}
	return Report{
		Age:              fmt.Sprintf("%d years", a.Age),
		Gender:           a.Gender,
		Emotion:          a.EmotionLabel(),
		Angle:            a.HeadPose,
		DetailedEmotions: detailed,
	}
}

// unknownReport carries msg with every attribute unknown.
func unknownReport(msg string) Report {
	return Report{
		Error:   msg,
		Age:     "unknown",
		Gender:  "unknown",
		Emotion: "unknown",
	}
}

// NoFaceReport is the answer for an image without a face.
func NoFaceReport() Report {
	return unknownReport(msgNoFace)
}
