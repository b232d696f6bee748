package recognize

import "strings"

// Detection is one text region reported by the engine. Box holds the
// region's corner points in image pixels.
type Detection struct {
	Text       string       `json:"text"`
	Box        [][2]float64 `json:"box"`
	Confidence float64      `json:"confidence"`
}

// PassResult is the outcome of running one pass over one image. A pass that
// failed carries Err and no detections.
type PassResult struct {
	Pass       Pass
	Detections []Detection
	Err        error
}

// Result is the winning pass for an image.
type Result struct {
	// Language is the winning pass's language, Auto when the multi-script
	// pass won, or Undetermined when nothing usable was found.
	Language   string      `json:"language"`
	Pass       string      `json:"pass,omitempty"`
	Detections []Detection `json:"detections"`
	// PassesRun counts the passes attempted, failed ones included.
	PassesRun int `json:"passes_run"`
}

// Selector picks the winning pass among results for one image.
type Selector struct {
	// MinConfidence drops detections scored below it.
	MinConfidence float64
}

// Usable returns the detections with non-blank text at or above
// MinConfidence, in their original order.
func (s Selector) Usable(detections []Detection) []Detection {
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if strings.TrimSpace(d.Text) == "" || d.Confidence < s.MinConfidence {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Select returns the result with the most usable detections. Ties go to
// the earliest result. When every result is empty, the language is
// Undetermined and the detection list is empty.
func (s Selector) Select(results []PassResult) Result {
	best := -1
	var bestUsable []Detection

	for i, r := range results {
		if r.Err != nil {
			continue
		}
		usable := s.Usable(r.Detections)
		if len(usable) > len(bestUsable) {
			best = i
			bestUsable = usable
		}
	}

	if best < 0 {
		return Result{Language: Undetermined, Detections: []Detection{}, PassesRun: len(results)}
	}

	winner := results[best].Pass
	return Result{
		Language:   winner.Language(),
		Pass:       winner.Key(),
		Detections: bestUsable,
		PassesRun:  len(results),
	}
}
