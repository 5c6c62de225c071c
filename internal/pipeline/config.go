package pipeline

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/andresmejia3/steady/internal/warp"
)

// Config holds everything a run needs besides its inputs and outputs.
type Config struct {
	Template  geometry.Template
	Smoothing smoother.Config
	// ConfidenceThreshold drops detections scoring below it. Range [0, 1].
	ConfidenceThreshold float64
	Output              warp.Config
	// Workers is the pool size for detection and warping. Zero means one
	// per CPU.
	Workers int
}

// ConfigError reports a configuration that cannot run. It is returned before
// any frame is read.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "invalid configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// validate checks cfg against the landmark source it will be paired with.
func (c Config) validate(src LandmarkSource) error {
	var errs []error
	if c.Template.Len() < 2 {
		errs = append(errs, fmt.Errorf("template needs at least 2 points, has %d", c.Template.Len()))
	}
	if src == nil {
		errs = append(errs, errors.New("no landmark source"))
	} else if n := src.Landmarks(); n != c.Template.Len() {
		errs = append(errs, fmt.Errorf("template %q has %d points but the landmark source reports %d", c.Template.Name, c.Template.Len(), n))
	}
	if err := c.Smoothing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Output.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be between 0.0 and 1.0, got %f", c.ConfidenceThreshold))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
