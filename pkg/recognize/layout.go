package recognize

import (
	"math"
	"slices"
	"strings"
)

// DefaultMergeThreshold is the pixel distance used by MergeNearby.
const DefaultMergeThreshold = 50.0

type rect struct {
	x1, y1, x2, y2 float64
}

func boundingRect(box [][2]float64) rect {
	if len(box) == 0 {
		return rect{}
	}
	r := rect{x1: box[0][0], y1: box[0][1], x2: box[0][0], y2: box[0][1]}
	for _, p := range box[1:] {
		r.x1 = math.Min(r.x1, p[0])
		r.y1 = math.Min(r.y1, p[1])
		r.x2 = math.Max(r.x2, p[0])
		r.y2 = math.Max(r.y2, p[1])
	}
	return r
}

func (r rect) center() (float64, float64) {
	return (r.x1 + r.x2) / 2, (r.y1 + r.y2) / 2
}

func (r rect) union(o rect) rect {
	return rect{
		x1: math.Min(r.x1, o.x1),
		y1: math.Min(r.y1, o.y1),
		x2: math.Max(r.x2, o.x2),
		y2: math.Max(r.y2, o.y2),
	}
}

func (r rect) corners() [][2]float64 {
	return [][2]float64{{r.x1, r.y1}, {r.x2, r.y1}, {r.x2, r.y2}, {r.x1, r.y2}}
}

// SortReadingOrder orders detections top-to-bottom, then left-to-right
// within a row. Rows are buckets of max(12, ySpan/20) pixels over the box
// centers.
func SortReadingOrder(detections []Detection) []Detection {
	if len(detections) == 0 {
		return detections
	}

	type placed struct {
		row int
		cx  float64
		det Detection
	}

	items := make([]placed, len(detections))
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i, d := range detections {
		cx, cy := boundingRect(d.Box).center()
		items[i] = placed{cx: cx, det: d}
		minY = math.Min(minY, cy)
		maxY = math.Max(maxY, cy)
	}

	bucket := math.Max(12, (maxY-minY)/20)
	for i, d := range detections {
		_, cy := boundingRect(d.Box).center()
		items[i].row = int(math.Floor(cy / bucket))
	}

	slices.SortStableFunc(items, func(a, b placed) int {
		if a.row != b.row {
			return a.row - b.row
		}
		switch {
		case a.cx < b.cx:
			return -1
		case a.cx > b.cx:
			return 1
		}
		return 0
	})

	out := make([]Detection, len(items))
	for i, it := range items {
		out[i] = it.det
	}
	return out
}

// MergeNearby joins detections whose centers sit on the same row (vertical
// distance under threshold/2) and close horizontally (under threshold*2).
// Each detection is compared with the first member of its group; merged
// text is space-joined, boxes are unioned and confidences averaged.
func MergeNearby(detections []Detection, threshold float64) []Detection {
	if len(detections) <= 1 {
		return detections
	}
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}

	merged := make([]Detection, 0, len(detections))
	taken := make([]bool, len(detections))

	for i, d := range detections {
		if taken[i] {
			continue
		}

		base := boundingRect(d.Box)
		cxi, cyi := base.center()

		group := []Detection{d}
		for j := i + 1; j < len(detections); j++ {
			if taken[j] {
				continue
			}
			cxj, cyj := boundingRect(detections[j].Box).center()
			if math.Abs(cyi-cyj) < threshold/2 && math.Abs(cxi-cxj) < threshold*2 {
				group = append(group, detections[j])
				taken[j] = true
			}
		}

		if len(group) == 1 {
			merged = append(merged, d)
			continue
		}

		texts := make([]string, len(group))
		bounds := base
		var conf float64
		for k, g := range group {
			texts[k] = g.Text
			bounds = bounds.union(boundingRect(g.Box))
			conf += g.Confidence
		}

		merged = append(merged, Detection{
			Text:       strings.Join(texts, " "),
			Box:        bounds.corners(),
			Confidence: conf / float64(len(group)),
		})
	}

	return merged
}
