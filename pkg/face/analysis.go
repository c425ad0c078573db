package face

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// HeadPose is a coarse head orientation in whole degrees.
type HeadPose struct {
	Pitch int `json:"pitch"`
	Yaw   int `json:"yaw"`
	Roll  int `json:"roll"`
}

// Analysis is the consolidated report of one successful detection cycle.
// It is never modified after creation.
type Analysis struct {
	ID                 string      `json:"id"`
	Age                int         `json:"age"`
	Gender             string      `json:"gender"`
	DominantEmotion    string      `json:"dominant_emotion"`
	DominantConfidence float64     `json:"dominant_confidence"`
	Expressions        Expressions `json:"expressions"`
	HeadPose           HeadPose    `json:"head_pose"`
	Timestamp          time.Time   `json:"timestamp"`
}

// NewAnalysis builds the report for det with an already estimated pose.
func NewAnalysis(det Detection, pose HeadPose, at time.Time) Analysis {
	emotion, conf := det.Expressions.Dominant()
	return Analysis{
		ID:                 uuid.NewString(),
		Age:                int(math.Round(det.Age)),
		Gender:             det.Gender,
		DominantEmotion:    emotion,
		DominantConfidence: conf,
		Expressions:        det.Expressions.Clone(),
		HeadPose:           pose,
		Timestamp:          at,
	}
}

// AgeLabel formats age and gender, e.g. "27 years old male".
func (a Analysis) AgeLabel() string {
	if a.Gender == "" {
		return fmt.Sprintf("%d years old", a.Age)
	}
	return fmt.Sprintf("%d years old %s", a.Age, a.Gender)
}

// EmotionLabel formats the dominant emotion, e.g. "happy (0.82)".
func (a Analysis) EmotionLabel() string {
	return fmt.Sprintf("%s (%.2f)", a.DominantEmotion, a.DominantConfidence)
}

// PoseLabel formats the head pose. Plain ASCII so Hershey fonts can draw it.
func (a Analysis) PoseLabel() string {
	return fmt.Sprintf("Angles: P:%d Y:%d R:%d", a.HeadPose.Pitch, a.HeadPose.Yaw, a.HeadPose.Roll)
}
