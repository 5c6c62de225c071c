package pipeline

import (
	"context"
	"errors"
	"image"

	"github.com/andresmejia3/steady/internal/geometry"
)

// Frame is one decoded input image and its position in the sequence.
type Frame struct {
	Index int
	Image image.Image
}

// Detection is one candidate face reported by a LandmarkSource.
type Detection struct {
	Points     []geometry.Point `json:"points"`
	Confidence float64          `json:"confidence"`
	Box        geometry.Rect    `json:"box"`
}

// ErrSourceFailed is wrapped by LandmarkSource errors that will recur on every
// later frame, such as a crashed detector process. It aborts the run.
var ErrSourceFailed = errors.New("landmark source failed")

// LandmarkSource detects faces and their landmarks.
type LandmarkSource interface {
	// Landmarks returns the number of points in every reported Detection.
	Landmarks() int
	// Detect returns zero or more candidate faces for f. An error marks the
	// frame absent unless it wraps ErrSourceFailed.
	Detect(ctx context.Context, f Frame) ([]Detection, error)
}

// FrameSource yields the input sequence. Offline runs open it twice.
type FrameSource interface {
	// Len returns the number of frames, or -1 when unknown.
	Len() int
	Open(ctx context.Context) (FrameReader, error)
}

// FrameReader reads frames in order. Next returns io.EOF after the last one.
type FrameReader interface {
	Next() (image.Image, error)
	Close() error
}

// FrameSink receives stabilized frames in index order. WriteFrame must either
// store the whole frame or fail.
type FrameSink interface {
	WriteFrame(index int, img *image.RGBA) error
	Close() error
}
