package landmarks

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/steady/internal/pipeline"
)

// ErrNoFrame is returned by FileSource when the file has no entry for a frame.
var ErrNoFrame = errors.New("frame not present in landmark file")

// FileSource serves detections from a loaded File.
type FileSource struct {
	cardinality int
	frames      map[int][]pipeline.Detection
}

// NewFileSource indexes f by frame.
func NewFileSource(f *File) *FileSource {
	s := &FileSource{cardinality: f.Landmarks, frames: make(map[int][]pipeline.Detection, len(f.Frames))}
	for _, fr := range f.Frames {
		s.frames[fr.Index] = fr.Faces
	}
	return s
}

// Landmarks implements pipeline.LandmarkSource.
func (s *FileSource) Landmarks() int { return s.cardinality }

// Detect implements pipeline.LandmarkSource.
func (s *FileSource) Detect(ctx context.Context, f pipeline.Frame) ([]pipeline.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	faces, ok := s.frames[f.Index]
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", f.Index, ErrNoFrame)
	}
	return faces, nil
}
