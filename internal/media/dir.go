// Package media adapts image directories and video files to the pipeline's
// frame source and sink interfaces.
package media

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/utils"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DirSource reads every image in a directory in lexical file-name order.
type DirSource struct {
	paths []string
}

// NewDirSource lists the images in dir. Subdirectories and files with other
// extensions are skipped.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(paths)
	return &DirSource{paths: paths}, nil
}

// Paths returns the image files in frame order.
func (s *DirSource) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Len implements pipeline.FrameSource.
func (s *DirSource) Len() int { return len(s.paths) }

// Open implements pipeline.FrameSource.
func (s *DirSource) Open(ctx context.Context) (pipeline.FrameReader, error) {
	return &dirReader{ctx: ctx, paths: s.paths}, nil
}

type dirReader struct {
	ctx   context.Context
	paths []string
	next  int
}

func (r *dirReader) Next() (image.Image, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	if r.next >= len(r.paths) {
		return nil, io.EOF
	}
	path := r.paths[r.next]
	r.next++
	return decodeFile(path)
}

func (r *dirReader) Close() error { return nil }

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// DirSink writes each frame as a numbered PNG.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir}, nil
}

// FramePath returns where frame index is written.
func (s *DirSink) FramePath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_%06d.png", index))
}

// WriteFrame implements pipeline.FrameSink. The file appears only once it is
// completely written.
func (s *DirSink) WriteFrame(index int, img *image.RGBA) error {
	return utils.WriteFileAtomic(s.FramePath(index), func(w io.Writer) error {
		return png.Encode(w, img)
	})
}

// Close implements pipeline.FrameSink.
func (s *DirSink) Close() error { return nil }
