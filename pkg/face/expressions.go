package face

import "sort"

// Canonical expression names.
const (
	Neutral   = "neutral"
	Happy     = "happy"
	Sad       = "sad"
	Angry     = "angry"
	Fearful   = "fearful"
	Disgusted = "disgusted"
	Surprised = "surprised"
)

// EmotionOrder is the fixed iteration order used to break ties.
var EmotionOrder = []string{Neutral, Happy, Sad, Angry, Fearful, Disgusted, Surprised}

// Expressions maps an emotion name to a confidence in [0,1].
type Expressions map[string]float64

// Keys returns the emotion names in stable order: the canonical emotions
// first, in EmotionOrder, then any other names sorted lexically.
func (e Expressions) Keys() []string {
	keys := make([]string, 0, len(e))
	known := make(map[string]bool, len(EmotionOrder))
	for _, name := range EmotionOrder {
		known[name] = true
		if _, ok := e[name]; ok {
			keys = append(keys, name)
		}
	}

	var extra []string
	for name := range e {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	return append(keys, extra...)
}

// Dominant returns the emotion with the strictly highest score. Ties go to
// the name that comes first in Keys order. Empty input returns ("", 0).
func (e Expressions) Dominant() (string, float64) {
	best := ""
	bestScore := 0.0
	for i, name := range e.Keys() {
		score := e[name]
		if i == 0 || score > bestScore {
			best = name
			bestScore = score
		}
	}
	return best, bestScore
}

// Clone returns an independent copy.
func (e Expressions) Clone() Expressions {
	if e == nil {
		return nil
	}
	out := make(Expressions, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
