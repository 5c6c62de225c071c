package pipeline

import "github.com/andresmejia3/steady/internal/geometry"

// selectFace picks the detection to stabilize on. Candidates with the wrong
// cardinality are ignored. Candidates below threshold, or whose confidence is
// NaN or outside [0, 1], are dropped. The rest are ranked by confidence, then
// landmark bounding-box area, then lowest index.
func selectFace(dets []Detection, n int, threshold float64) (int, AbsenceReason) {
	best := -1
	var bestConf, bestArea float64
	sawCandidate := false

	for i, d := range dets {
		if len(d.Points) != n {
			continue
		}
		sawCandidate = true
		if !(d.Confidence >= threshold && d.Confidence <= 1) {
			continue
		}
		area := geometry.NewLandmarkSet(d.Points).Bounds().Area()
		if best < 0 || d.Confidence > bestConf || (d.Confidence == bestConf && area > bestArea) {
			best, bestConf, bestArea = i, d.Confidence, area
		}
	}

	switch {
	case best >= 0:
		return best, ""
	case sawCandidate:
		return -1, AbsentLowConfidence
	default:
		return -1, AbsentNoFace
	}
}
