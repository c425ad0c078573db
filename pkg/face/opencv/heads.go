package opencv

import (
	"math"

	"github.com/teslashibe/mood-map/pkg/face"
)

// ferPlusLabels is the output order of the FER+ network.
var ferPlusLabels = []string{
	face.Neutral,
	face.Happy,
	face.Surprised,
	face.Sad,
	face.Angry,
	face.Disgusted,
	face.Fearful,
	"contempt",
}

// ageBuckets are the class ranges of the Levi-Hassner age network.
var ageBuckets = [][2]float64{
	{0, 2}, {4, 6}, {8, 12}, {15, 20}, {25, 32}, {38, 43}, {48, 53}, {60, 100},
}

// genderLabels is the output order of the gender network.
var genderLabels = []string{"male", "female"}

// ageNetMean is the BGR training mean of the age and gender networks.
var ageNetMean = [3]float64{78.4263377603, 87.7689143744, 114.895847746}

func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxV := float64(logits[0])
	for _, v := range logits[1:] {
		maxV = math.Max(maxV, float64(v))
	}

	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// expressionsFromLogits maps raw FER+ scores to expression confidences.
func expressionsFromLogits(logits []float32) face.Expressions {
	probs := softmax(logits)
	expr := make(face.Expressions, len(probs))
	for i, p := range probs {
		if i >= len(ferPlusLabels) {
			break
		}
		expr[ferPlusLabels[i]] = p
	}
	return expr
}

// ageFromProbs returns the expected age over the bucket midpoints.
func ageFromProbs(probs []float32) float64 {
	age, total := 0.0, 0.0
	for i, p := range probs {
		if i >= len(ageBuckets) {
			break
		}
		mid := (ageBuckets[i][0] + ageBuckets[i][1]) / 2
		age += float64(p) * mid
		total += float64(p)
	}
	if total <= 0 {
		return 0
	}
	return age / total
}

// genderFromProbs returns the most likely label, or "" for no output.
func genderFromProbs(probs []float32) string {
	best := -1
	for i, p := range probs {
		if i >= len(genderLabels) {
			break
		}
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return genderLabels[best]
}
