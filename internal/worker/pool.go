package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/types"
	"github.com/andresmejia3/steady/internal/utils"
	"golang.org/x/sync/errgroup"
)

// detector is the part of PythonWorker the pool depends on.
type detector interface {
	ProcessFrame(task types.FrameTask) ([]types.FaceResult, error)
	Close() error
}

// Pool shares a fixed set of detector processes between pipeline workers.
// It implements pipeline.LandmarkSource.
type Pool struct {
	idle      chan detector
	all       []detector
	landmarks int
	quality   int
}

// jpegQuality is used to encode frames for the detector.
const jpegQuality = 95

// NewPool starts size detector processes and waits until every one has
// completed its handshake. All must report the same landmark cardinality.
func NewPool(ctx context.Context, size int, command []string) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	fmt.Fprintf(os.Stderr, "🚀 Warming up %d detector engine(s)...\n", size)

	workers := make([]*PythonWorker, size)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			w, err := NewPythonWorker(ctx, i, command)
			if err != nil {
				return err
			}
			workers[i] = w
			return nil
		})
	}
	err := g.Wait()

	var started []detector
	for _, w := range workers {
		if w != nil {
			started = append(started, w)
		}
	}
	if err != nil {
		closeAll(started)
		return nil, err
	}

	n := workers[0].Handshake.Landmarks
	for _, w := range workers[1:] {
		if w.Handshake.Landmarks != n {
			closeAll(started)
			return nil, fmt.Errorf("detectors disagree on landmark count: %d vs %d", n, w.Handshake.Landmarks)
		}
	}
	if m := workers[0].Handshake.Model; m != "" {
		fmt.Fprintf(os.Stderr, "🧠 Detector model: %s (%d landmarks)\n", m, n)
	}
	return newPool(started, n), nil
}

func newPool(workers []detector, landmarks int) *Pool {
	p := &Pool{
		idle:      make(chan detector, len(workers)),
		all:       workers,
		landmarks: landmarks,
		quality:   jpegQuality,
	}
	for _, w := range workers {
		p.idle <- w
	}
	return p
}

// Landmarks implements pipeline.LandmarkSource.
func (p *Pool) Landmarks() int { return p.landmarks }

// Detect implements pipeline.LandmarkSource. A per-frame error reported by
// the detector marks only that frame; a broken pipe to the process wraps
// pipeline.ErrSourceFailed.
func (p *Pool) Detect(ctx context.Context, f pipeline.Frame) ([]pipeline.Detection, error) {
	var w detector
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.idle <- w }()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Index, err)
	}

	faces, err := w.ProcessFrame(types.FrameTask{Index: f.Index, Data: buf.Bytes()})
	if err != nil {
		if errors.Is(err, ErrLogic) {
			return nil, err
		}
		if pw, ok := w.(*PythonWorker); ok {
			utils.ShowError("Detector crashed", err, pw.Cmd)
		}
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSourceFailed, err)
	}
	return toDetections(faces), nil
}

// toDetections converts wire results. Faces with the wrong number of points
// are passed through; the pipeline drops them.
func toDetections(faces []types.FaceResult) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(faces))
	for _, face := range faces {
		pts := make([]geometry.Point, len(face.Points))
		for i, p := range face.Points {
			pts[i] = geometry.Point{X: p[0], Y: p[1]}
		}
		out = append(out, pipeline.Detection{
			Points:     pts,
			Confidence: face.Confidence,
			Box:        geometry.Rect{MinX: face.Box[0], MinY: face.Box[1], MaxX: face.Box[2], MaxY: face.Box[3]},
		})
	}
	return out
}

// Close stops every detector process.
func (p *Pool) Close() error {
	return closeAll(p.all)
}

func closeAll(workers []detector) error {
	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Close(); err != nil && !errors.Is(err, io.EOF) {
				errs[i] = err
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
