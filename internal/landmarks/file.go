// Package landmarks reads and writes precomputed landmark files so a
// sequence can be re-stabilized without running the detector again.
package landmarks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/utils"
)

// FormatVersion is written into every file and checked on load.
const FormatVersion = 1

// File is the on-disk layout of an extracted landmark set.
type File struct {
	Version int `json:"version"`
	// Landmarks is the cardinality of every detection in the file.
	Landmarks int     `json:"landmarks"`
	Frames    []Frame `json:"frames"`
}

// Frame holds every face detected in one input frame.
type Frame struct {
	Index  int                  `json:"index"`
	Source string               `json:"source,omitempty"`
	Faces  []pipeline.Detection `json:"faces"`
}

// FromRecords builds a File from analyzed frames. sources may be nil or
// name the input of each frame.
func FromRecords(cardinality int, records []pipeline.FrameRecord, sources []string) *File {
	f := &File{Version: FormatVersion, Landmarks: cardinality, Frames: make([]Frame, len(records))}
	for i, rec := range records {
		fr := Frame{Index: rec.Index, Faces: rec.Candidates}
		if fr.Faces == nil {
			fr.Faces = []pipeline.Detection{}
		}
		if i < len(sources) {
			fr.Source = sources[i]
		}
		f.Frames[i] = fr
	}
	return f
}

// Validate checks the version and that every face has the declared
// cardinality.
func (f *File) Validate() error {
	var errs []error
	if f.Version != FormatVersion {
		errs = append(errs, fmt.Errorf("unsupported landmark file version %d (want %d)", f.Version, FormatVersion))
	}
	if f.Landmarks < 1 {
		errs = append(errs, fmt.Errorf("landmark cardinality must be positive, got %d", f.Landmarks))
	}
	seen := make(map[int]bool, len(f.Frames))
	for _, fr := range f.Frames {
		if seen[fr.Index] {
			errs = append(errs, fmt.Errorf("frame %d listed twice", fr.Index))
		}
		seen[fr.Index] = true
		for j, face := range fr.Faces {
			if len(face.Points) != f.Landmarks {
				errs = append(errs, fmt.Errorf("frame %d face %d has %d points, want %d", fr.Index, j, len(face.Points), f.Landmarks))
			}
		}
	}
	return errors.Join(errs...)
}

// Encode writes f as indented JSON.
func Encode(w io.Writer, f *File) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Decode reads and validates a File.
func Decode(r io.Reader) (*File, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode landmark file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Save writes f to path atomically. An existing file at path is first
// renamed to path + ".bak".
func Save(path string, f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	backedUp, err := utils.BackupExisting(path)
	if err != nil {
		return err
	}
	if backedUp {
		fmt.Fprintf(os.Stderr, "⚠️  %s exists, moved it to %s\n", path, utils.BackupPath(path))
	}
	return utils.WriteFileAtomic(path, func(w io.Writer) error { return Encode(w, f) })
}

// Load reads a landmark file from disk.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
