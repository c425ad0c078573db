package moodmap

import (
	"fmt"

	"github.com/teslashibe/mood-map/pkg/face"
)

// State is the orchestrator state.
type State int

const (
	StateIdle State = iota
	StateModelLoading
	StateReady
	StateCapturing
	StateAnalyzing
	StateResultsReady
	StateError
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateModelLoading: "model_loading",
	StateReady:        "ready",
	StateCapturing:    "capturing",
	StateAnalyzing:    "analyzing",
	StateResultsReady: "results_ready",
	StateError:        "error",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NoticeKind is a user-visible condition.
type NoticeKind int

const (
	NoticeDeviceDenied NoticeKind = iota + 1
	NoticeModelLoadFailure
	NoticeNoFaceDetected
	NoticeExportFailure
)

var noticeNames = map[NoticeKind]string{
	NoticeDeviceDenied:     "device_denied",
	NoticeModelLoadFailure: "model_load_failure",
	NoticeNoFaceDetected:   "no_face_detected",
	NoticeExportFailure:    "export_failure",
}

var noticeMessages = map[NoticeKind]string{
	NoticeDeviceDenied:     "Camera access denied. Please allow camera permissions and try again.",
	NoticeModelLoadFailure: "Failed to load AI models. Please restart Mood Map.",
	NoticeNoFaceDetected:   "No face detected. Please face the camera and try again.",
	NoticeExportFailure:    "Could not save the snapshot. Please try again.",
}

// String returns the notice kind name.
func (k NoticeKind) String() string {
	if name, ok := noticeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("notice(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k NoticeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notice is a plain-language message for the user. It never carries
// error details.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

func newNotice(k NoticeKind) *Notice {
	return &Notice{Kind: k, Message: noticeMessages[k]}
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State       State          `json:"state"`
	Attempt     int            `json:"attempt,omitempty"`
	MaxAttempts int            `json:"max_attempts"`
	Progress    string         `json:"progress,omitempty"`
	Notice      *Notice        `json:"notice,omitempty"`
	Result      *face.Analysis `json:"result,omitempty"`
	CameraOn    bool           `json:"camera_on"`
	FrameWidth  int            `json:"frame_width,omitempty"`
	FrameHeight int            `json:"frame_height,omitempty"`
	FaceVisible bool           `json:"face_visible"`
	HasSnapshot bool           `json:"has_snapshot"`
}
