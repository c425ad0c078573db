package opencv

import (
	_ "embed"

	"github.com/teslashibe/mood-map/pkg/models"
)

// Artifact names understood by Engine.LoadArtifacts.
const (
	ArtifactDetector   = "face_detector"
	ArtifactCascade    = "face_cascade"
	ArtifactExpression = "face_expression"
	ArtifactAge        = "age_estimator"
	ArtifactGender     = "gender_estimator"
)

//go:embed manifest.yaml
var manifestYAML []byte

// DefaultManifest returns the embedded artifact manifest.
func DefaultManifest() (models.Manifest, error) {
	return models.ParseManifest(manifestYAML)
}
