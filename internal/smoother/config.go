// Package smoother filters a per-frame sequence of similarity transforms to
// remove detector jitter while following intentional head motion.
package smoother

import (
	"errors"
	"fmt"
	"math"
)

// Mode selects the aggregation policy.
type Mode string

const (
	// ModeCentered is an unweighted moving average over a centered window.
	ModeCentered Mode = "centered"
	// ModeWeighted is a kernel-weighted average over a centered window.
	ModeWeighted Mode = "weighted"
	// ModeCausal is an exponential recursive filter over past frames only.
	ModeCausal Mode = "causal"
)

// Kernel selects the weights used by ModeWeighted.
type Kernel string

const (
	KernelGaussian   Kernel = "gaussian"
	KernelTriangular Kernel = "triangular"
)

// GapPolicy decides what a frame without its own raw transform receives.
type GapPolicy string

const (
	// GapWindow aggregates the frame's window when it holds any raw sample,
	// and falls back to holding when it does not.
	GapWindow GapPolicy = "window"
	// GapHold repeats the previous smoothed transform for every frame
	// without its own raw sample.
	GapHold GapPolicy = "hold"
)

// Config holds smoothing options.
type Config struct {
	// Window is the window width W in frames (>= 1).
	Window int `yaml:"window"`
	Mode   Mode `yaml:"mode"`
	// Kernel applies to ModeWeighted.
	Kernel Kernel `yaml:"kernel"`
	// Alpha is the causal filter gain in (0, 1]. Zero means 2/(W+1).
	Alpha float64 `yaml:"alpha"`
	// Sigma is the Gaussian kernel width in frames. Zero means W/4.
	Sigma     float64   `yaml:"sigma"`
	GapPolicy GapPolicy `yaml:"gap_policy"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Window:    15,
		Mode:      ModeCentered,
		Kernel:    KernelGaussian,
		GapPolicy: GapWindow,
	}
}

// Validate checks every field and joins all problems into one error.
func (c Config) Validate() error {
	var errs []error
	if c.Window < 1 {
		errs = append(errs, fmt.Errorf("smoothing window must be >= 1, got %d", c.Window))
	}
	switch c.Mode {
	case ModeCentered, ModeWeighted, ModeCausal:
	default:
		errs = append(errs, fmt.Errorf("invalid smoothing mode %q. Must be one of: centered, weighted, causal", c.Mode))
	}
	switch c.Kernel {
	case KernelGaussian, KernelTriangular, "":
	default:
		errs = append(errs, fmt.Errorf("invalid kernel %q. Must be gaussian or triangular", c.Kernel))
	}
	switch c.GapPolicy {
	case GapHold, GapWindow, "":
	default:
		errs = append(errs, fmt.Errorf("invalid gap policy %q. Must be window or hold", c.GapPolicy))
	}
	if c.Alpha < 0 || c.Alpha > 1 || math.IsNaN(c.Alpha) {
		errs = append(errs, fmt.Errorf("alpha must be within (0, 1], got %f", c.Alpha))
	}
	if c.Sigma < 0 || math.IsNaN(c.Sigma) {
		errs = append(errs, fmt.Errorf("sigma must be >= 0, got %f", c.Sigma))
	}
	return errors.Join(errs...)
}

func (c Config) alpha() float64 {
	if c.Alpha > 0 {
		return c.Alpha
	}
	return 2 / float64(c.Window+1)
}

func (c Config) sigma() float64 {
	if c.Sigma > 0 {
		return c.Sigma
	}
	return math.Max(float64(c.Window)/4, 0.5)
}

func (c Config) gapPolicy() GapPolicy {
	if c.GapPolicy == "" {
		return GapWindow
	}
	return c.GapPolicy
}

// span returns how many frames the window reaches before and after the
// current frame. Even widths lean towards the past.
func (c Config) span() (before, after int) {
	if c.Mode == ModeCausal {
		return c.Window - 1, 0
	}
	before = c.Window / 2
	return before, c.Window - 1 - before
}

// weight returns the contribution of a sample `offset` frames away from the
// window centre.
func (c Config) weight(offset int) float64 {
	if c.Mode != ModeWeighted {
		return 1
	}
	d := math.Abs(float64(offset))
	if c.Kernel == KernelTriangular {
		before, after := c.span()
		return 1 - d/float64(max(before, after)+1)
	}
	s := c.sigma()
	return math.Exp(-d * d / (2 * s * s))
}
