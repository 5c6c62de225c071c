package pipeline

import (
	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/smoother"
)

// AbsenceReason says why a frame has no raw transform.
type AbsenceReason string

const (
	AbsentNoFace        AbsenceReason = "no-face"
	AbsentLowConfidence AbsenceReason = "low-confidence"
	AbsentIndeterminate AbsenceReason = "indeterminate"
	AbsentDetectorError AbsenceReason = "detector-error"
)

// FrameRecord is everything the pipeline learned about one frame.
type FrameRecord struct {
	Index      int
	Candidates []Detection
	// Chosen indexes Candidates, or -1 when no face was selected.
	Chosen int
	// Raw is valid only when HasRaw is set.
	Raw      geometry.Similarity
	HasRaw   bool
	Residual float64
	// Absence is empty when the frame has a raw transform.
	Absence  AbsenceReason
	Smoothed geometry.Similarity
	State    smoother.State
}

// Landmarks returns the selected face's landmarks.
func (r FrameRecord) Landmarks() (geometry.LandmarkSet, bool) {
	if r.Chosen < 0 || r.Chosen >= len(r.Candidates) {
		return geometry.LandmarkSet{}, false
	}
	return geometry.NewLandmarkSet(r.Candidates[r.Chosen].Points), true
}

func (r FrameRecord) sample() smoother.Sample {
	if !r.HasRaw {
		return smoother.Absent()
	}
	return smoother.Present(r.Raw)
}

func (r *FrameRecord) apply(res smoother.Result) {
	r.Smoothed = res.Transform
	r.State = res.State
}
