// Package pipeline sequences landmark detection, transform estimation,
// temporal smoothing and warping over a frame sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/andresmejia3/steady/internal/warp"
)

// Stage names a pass over the frames for progress reporting.
type Stage string

const (
	StageAnalyze Stage = "analyze"
	StageWarp    Stage = "warp"
)

// ProgressFunc is called from a single goroutine once per frame and stage,
// in frame order.
type ProgressFunc func(stage Stage, index int)

// Pipeline is a validated configuration bound to a landmark source.
type Pipeline struct {
	cfg       Config
	landmarks LandmarkSource
	warper    *warp.Warper
	progress  ProgressFunc
}

// New validates cfg against src. All configuration problems, including a
// template whose cardinality differs from the source's, are reported as a
// *ConfigError.
func New(cfg Config, src LandmarkSource) (*Pipeline, error) {
	if err := cfg.validate(src); err != nil {
		return nil, err
	}
	w, err := warp.New(cfg.Output)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return &Pipeline{cfg: cfg, landmarks: src, warper: w}, nil
}

// OnProgress registers a progress hook. It must be set before Run.
func (p *Pipeline) OnProgress(fn ProgressFunc) { p.progress = fn }

func (p *Pipeline) report(stage Stage, index int) {
	if p.progress != nil {
		p.progress(stage, index)
	}
}

// Run stabilizes frames into sink and returns one record per frame.
// Causal smoothing streams in a single pass; the centered modes read the
// source twice, first to analyze and then to warp. Frames reach the sink in
// input order. An I/O error or cancellation aborts the run.
func (p *Pipeline) Run(ctx context.Context, frames FrameSource, sink FrameSink) ([]FrameRecord, error) {
	if p.cfg.Smoothing.Mode == smoother.ModeCausal {
		return p.runStreaming(ctx, frames, sink)
	}
	return p.runOffline(ctx, frames, sink)
}

// Analyze runs detection and estimation only. Records carry raw transforms
// and no smoothed values.
func (p *Pipeline) Analyze(ctx context.Context, frames FrameSource) ([]FrameRecord, error) {
	var records []FrameRecord
	err := parallelOrdered(ctx, p.cfg.workers(), readFrames(frames),
		func(ctx context.Context, index int, img image.Image) (FrameRecord, error) {
			return p.analyze(ctx, Frame{Index: index, Image: img})
		},
		func(index int, rec FrameRecord) error {
			records = append(records, rec)
			p.report(StageAnalyze, index)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p *Pipeline) runOffline(ctx context.Context, frames FrameSource, sink FrameSink) ([]FrameRecord, error) {
	records, err := p.Analyze(ctx, frames)
	if err != nil {
		return nil, err
	}

	samples := make([]smoother.Sample, len(records))
	for i, rec := range records {
		samples[i] = rec.sample()
	}
	smoothed, err := smoother.Smooth(p.cfg.Smoothing, samples)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].apply(smoothed[i])
	}

	written := 0
	err = parallelOrdered(ctx, p.cfg.workers(), readFrames(frames),
		func(ctx context.Context, index int, img image.Image) (*image.RGBA, error) {
			if index >= len(records) {
				return nil, fmt.Errorf("frame source grew between passes: frame %d was not analyzed", index)
			}
			return p.warper.Warp(img, records[index].Smoothed), nil
		},
		func(index int, out *image.RGBA) error {
			if err := sink.WriteFrame(index, out); err != nil {
				return fmt.Errorf("write frame %d: %w", index, err)
			}
			written++
			p.report(StageWarp, index)
			return nil
		})
	if err != nil {
		return nil, err
	}
	if written != len(records) {
		return nil, fmt.Errorf("frame source shrank between passes: analyzed %d frames, warped %d", len(records), written)
	}
	return records, nil
}

type analyzed struct {
	record FrameRecord
	image  image.Image
}

func (p *Pipeline) runStreaming(ctx context.Context, frames FrameSource, sink FrameSink) ([]FrameRecord, error) {
	sm, err := smoother.New(p.cfg.Smoothing)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	workers := p.cfg.workers()
	var records []FrameRecord

	// Analysis feeds the warp pool in frame order, so smoothing sees every
	// frame exactly once and in sequence.
	analyzeAndSmooth := func(ctx context.Context, emit func(analyzed) error) error {
		return parallelOrdered(ctx, workers, readFrames(frames),
			func(ctx context.Context, index int, img image.Image) (analyzed, error) {
				rec, err := p.analyze(ctx, Frame{Index: index, Image: img})
				return analyzed{record: rec, image: img}, err
			},
			func(index int, a analyzed) error {
				res, err := sm.Push(a.record.sample())
				if err != nil {
					return err
				}
				a.record.apply(res)
				records = append(records, a.record)
				p.report(StageAnalyze, index)
				return emit(a)
			})
	}

	err = parallelOrdered(ctx, workers, analyzeAndSmooth,
		func(ctx context.Context, index int, a analyzed) (*image.RGBA, error) {
			return p.warper.Warp(a.image, a.record.Smoothed), nil
		},
		func(index int, out *image.RGBA) error {
			if err := sink.WriteFrame(index, out); err != nil {
				return fmt.Errorf("write frame %d: %w", index, err)
			}
			p.report(StageWarp, index)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// analyze detects, selects and estimates for one frame. Only cancellation and
// ErrSourceFailed are returned as errors; every other failure marks the frame
// absent.
func (p *Pipeline) analyze(ctx context.Context, f Frame) (FrameRecord, error) {
	rec := FrameRecord{Index: f.Index, Chosen: -1}

	dets, err := p.landmarks.Detect(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return rec, ctx.Err()
		}
		if errors.Is(err, ErrSourceFailed) {
			return rec, fmt.Errorf("frame %d: %w", f.Index, err)
		}
		Logf("frame %d: detector failed: %v", f.Index, err)
		rec.Absence = AbsentDetectorError
		return rec, nil
	}
	rec.Candidates = dets

	chosen, reason := selectFace(dets, p.cfg.Template.Len(), p.cfg.ConfidenceThreshold)
	if chosen < 0 {
		rec.Absence = reason
		return rec, nil
	}
	rec.Chosen = chosen

	fit, err := geometry.Estimate(geometry.NewLandmarkSet(dets[chosen].Points), p.cfg.Template)
	if err != nil {
		if !errors.Is(err, geometry.ErrIndeterminate) {
			Logf("frame %d: estimate failed: %v", f.Index, err)
		}
		rec.Absence = AbsentIndeterminate
		return rec, nil
	}
	rec.Raw, rec.HasRaw, rec.Residual = fit.Transform, true, fit.Residual
	return rec, nil
}

func readFrames(frames FrameSource) func(ctx context.Context, emit func(image.Image) error) error {
	return func(ctx context.Context, emit func(image.Image) error) (err error) {
		r, err := frames.Open(ctx)
		if err != nil {
			return fmt.Errorf("open frames: %w", err)
		}
		defer func() {
			if cerr := r.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close frames: %w", cerr)
			}
		}()
		for n := 0; ; n++ {
			img, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read frame %d: %w", n, err)
			}
			if err := emit(img); err != nil {
				return err
			}
		}
	}
}
