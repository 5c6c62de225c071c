package smoother

import (
	"fmt"
	"math"

	"github.com/andresmejia3/steady/internal/geometry"
	"golang.org/x/sync/errgroup"
)

// State describes where the smoother stands for one frame.
type State int

const (
	// StateUninitialized means no raw transform has been seen; identity is emitted.
	StateUninitialized State = iota
	// StateTracking means the frame's value derives from raw transforms in
	// its window.
	StateTracking
	// StateFrozen means the last smoothed value is repeated: the window is
	// empty, or GapHold applies to a frame without its own raw transform.
	StateFrozen
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateTracking:
		return "tracking"
	case StateFrozen:
		return "frozen"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sample is one frame's raw transform, or an absent marker.
type Sample struct {
	Transform geometry.Similarity
	Present   bool
}

// Present wraps a raw transform.
func Present(t geometry.Similarity) Sample { return Sample{Transform: t, Present: true} }

// Absent marks a frame without a usable raw transform.
func Absent() Sample { return Sample{} }

// Result is the smoothed transform for one frame.
type Result struct {
	Transform geometry.Similarity
	State     State
	// Support is the number of raw samples in the window that the value
	// derives from. Frames near the sequence edges are smoothed over fewer
	// samples. A frozen frame has zero support.
	Support int
}

// Smoother owns the running state of one smoothing pass. It is not safe for
// concurrent use; construct one per independent sequence.
type Smoother struct {
	cfg    Config
	window *ring

	ema     params
	emaInit bool

	last     geometry.Similarity
	haveLast bool
}

// New creates a Smoother for streaming use via Push.
func New(cfg Config) (*Smoother, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Smoother{cfg: cfg, window: newRing(cfg.Window)}, nil
}

// Reset clears all state so the Smoother can start a new sequence.
func (s *Smoother) Reset() {
	s.window.reset()
	s.ema = params{}
	s.emaInit = false
	s.last = geometry.Similarity{}
	s.haveLast = false
}

// Push feeds the next frame and returns its smoothed transform. Only past
// frames are used, so Push is available in causal mode only.
func (s *Smoother) Push(sample Sample) (Result, error) {
	if s.cfg.Mode != ModeCausal {
		return Result{}, fmt.Errorf("streaming requires %q mode, configured %q", ModeCausal, s.cfg.Mode)
	}
	if sample.Present && !sample.Transform.Valid() {
		sample = Absent()
	}
	s.window.push(sample)

	if sample.Present {
		x := toParams(sample.Transform)
		if !s.emaInit {
			s.ema = x
			s.emaInit = true
		} else {
			s.ema = s.ema.blend(x, s.cfg.alpha())
		}
		return s.emit(s.ema.similarity(s.last), StateTracking, s.window.present), nil
	}

	if !s.haveLast {
		return Result{Transform: geometry.Identity(), State: StateUninitialized}, nil
	}
	// The filter state is not advanced by an absent frame, so the held value
	// is the same under either gap policy. It still carries the samples in
	// the window.
	if s.window.empty() {
		return Result{Transform: s.last, State: StateFrozen}, nil
	}
	return Result{Transform: s.last, State: StateTracking, Support: s.window.present}, nil
}

func (s *Smoother) emit(t geometry.Similarity, state State, support int) Result {
	s.last = t
	s.haveLast = true
	return Result{Transform: t, State: state, Support: support}
}

// Smooth filters a complete sequence. Every input index gets a Result.
func Smooth(cfg Config, samples []Sample) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clean := make([]Sample, len(samples))
	for i, s := range samples {
		if s.Present && !s.Transform.Valid() {
			s = Absent()
		}
		clean[i] = s
	}
	samples = clean

	if cfg.Mode == ModeCausal {
		s, err := New(cfg)
		if err != nil {
			return nil, err
		}
		out := make([]Result, len(samples))
		for i, sample := range samples {
			if out[i], err = s.Push(sample); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return smoothWindowed(cfg, samples)
}

// window describes the aggregation for one frame.
type window struct {
	lo, hi  int // inclusive bounds, truncated to the sequence
	support int // present samples in [lo, hi]
}

// smoothWindowed runs the centered and weighted modes. The parameter
// channels do not interact and are aggregated concurrently; gap holding is
// resolved afterwards in frame order.
func smoothWindowed(cfg Config, samples []Sample) ([]Result, error) {
	n := len(samples)
	before, after := cfg.span()

	windows := make([]window, n)
	for i := range samples {
		w := window{lo: max(0, i-before), hi: min(n-1, i+after)}
		for j := w.lo; j <= w.hi; j++ {
			if samples[j].Present {
				w.support++
			}
		}
		windows[i] = w
	}

	raw := make([]params, n)
	for i, s := range samples {
		if s.Present {
			raw[i] = toParams(s.Transform)
		}
	}

	agg := make([]params, n)
	channels := []struct {
		name  string
		field func(p *params) *float64
	}{
		{"scale", func(p *params) *float64 { return &p.logScale }},
		{"cos", func(p *params) *float64 { return &p.cos }},
		{"sin", func(p *params) *float64 { return &p.sin }},
		{"tx", func(p *params) *float64 { return &p.tx }},
		{"ty", func(p *params) *float64 { return &p.ty }},
	}
	var g errgroup.Group
	for _, ch := range channels {
		g.Go(func() error {
			field := ch.field
			for i, w := range windows {
				if w.support == 0 {
					continue
				}
				var sum, total float64
				for j := w.lo; j <= w.hi; j++ {
					if !samples[j].Present {
						continue
					}
					wt := cfg.weight(j - i)
					sum += wt * *field(&raw[j])
					total += wt
				}
				v := sum / total
				if total == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%s aggregate for frame %d is not finite; kernel weights vanish, increase sigma", ch.name, i)
				}
				*field(&agg[i]) = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hold := cfg.gapPolicy() == GapHold
	out := make([]Result, n)
	var last geometry.Similarity
	haveLast := false
	for i, s := range samples {
		w := windows[i]
		switch {
		case w.support > 0 && (s.Present || !hold || !haveLast):
			fallback := last
			if s.Present {
				fallback = s.Transform
			}
			last = agg[i].similarity(fallback)
			haveLast = true
			out[i] = Result{Transform: last, State: StateTracking, Support: w.support}
		case haveLast:
			out[i] = Result{Transform: last, State: StateFrozen}
		default:
			out[i] = Result{Transform: geometry.Identity(), State: StateUninitialized}
		}
	}
	return out, nil
}

// params is a similarity decomposed into independently averageable channels.
// Scale is averaged in the log domain, rotation as a unit vector.
type params struct {
	logScale float64
	cos, sin float64
	tx, ty   float64
}

func toParams(t geometry.Similarity) params {
	return params{
		logScale: math.Log(t.Scale),
		cos:      math.Cos(t.Angle),
		sin:      math.Sin(t.Angle),
		tx:       t.Tx,
		ty:       t.Ty,
	}
}

func (p params) blend(x params, alpha float64) params {
	keep := 1 - alpha
	return params{
		logScale: alpha*x.logScale + keep*p.logScale,
		cos:      alpha*x.cos + keep*p.cos,
		sin:      alpha*x.sin + keep*p.sin,
		tx:       alpha*x.tx + keep*p.tx,
		ty:       alpha*x.ty + keep*p.ty,
	}
}

// minResultant guards the circular mean when opposing angles cancel out.
const minResultant = 1e-9

// similarity rebuilds a transform. When the rotation vectors cancel, the
// angle of fallback is used.
func (p params) similarity(fallback geometry.Similarity) geometry.Similarity {
	angle := fallback.Angle
	if math.Hypot(p.cos, p.sin) > minResultant {
		angle = math.Atan2(p.sin, p.cos)
	}
	return geometry.NewSimilarity(math.Exp(p.logScale), angle, p.tx, p.ty)
}
