// Package config loads the YAML run configuration and turns it into a
// pipeline configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/andresmejia3/steady/internal/warp"
	"gopkg.in/yaml.v3"
)

// Config is the file layout. Zero values left out of a file keep their
// defaults.
type Config struct {
	Template  TemplateConfig  `yaml:"template"`
	Smoothing smoother.Config `yaml:"smoothing"`
	Detection DetectionConfig `yaml:"detection"`
	Output    OutputConfig    `yaml:"output"`
	// Workers sizes the analysis and warp pools. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

// TemplateConfig names a built-in template or lists custom points in unit
// coordinates. Listed points take precedence and Name only labels them.
type TemplateConfig struct {
	Name   string           `yaml:"name,omitempty"`
	Points []geometry.Point `yaml:"points,omitempty"`
	// Scale is the template size as a fraction of the output's shorter side.
	Scale float64 `yaml:"scale"`
}

// DetectionConfig selects and tunes the landmark source.
type DetectionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// Landmarks is a precomputed landmark file. When set no detector runs.
	Landmarks string `yaml:"landmarks,omitempty"`
	// Command starts one detector process. Empty means the bundled detector.
	Command []string `yaml:"command,omitempty"`
	// Engines is the number of detector processes.
	Engines int `yaml:"engines"`
}

// OutputConfig describes the stabilized frame geometry.
type OutputConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
	// Color is "#RRGGBB" or "#RRGGBBAA", used by the color background.
	Color string `yaml:"color"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Template:  TemplateConfig{Scale: 1},
		Smoothing: smoother.DefaultConfig(),
		Detection: DetectionConfig{ConfidenceThreshold: 0.5, Engines: 1},
		Output: OutputConfig{
			Width:      256,
			Height:     256,
			Background: string(warp.BackgroundBlack),
			Color:      "#000000",
		},
	}
}

// Load reads path over the defaults. A missing file, or an empty path,
// yields the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	return enc.Close()
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Template.Scale <= 0 {
		errs = append(errs, fmt.Errorf("template.scale must be positive, got %v", c.Template.Scale))
	}
	if len(c.Template.Points) == 0 {
		if _, ok := builtinTemplates[c.Template.Name]; !ok && c.Template.Name != "" {
			errs = append(errs, fmt.Errorf("template.name %q is not built in (%v) and no points are listed", c.Template.Name, TemplateNames()))
		}
	} else if len(c.Template.Points) < 2 {
		errs = append(errs, fmt.Errorf("template.points needs at least 2 points, got %d", len(c.Template.Points)))
	}
	if err := c.Smoothing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("smoothing: %w", err))
	}
	if t := c.Detection.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("detection.confidence_threshold must be between 0.0 and 1.0, got %v", t))
	}
	if c.Detection.Engines < 1 {
		errs = append(errs, fmt.Errorf("detection.engines must be >= 1, got %d", c.Detection.Engines))
	}
	if _, err := c.warpConfig(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

func (c Config) warpConfig() (warp.Config, error) {
	wc := warp.Config{
		Width:      c.Output.Width,
		Height:     c.Output.Height,
		Background: warp.Background(c.Output.Background),
	}
	var errs []error
	if c.Output.Color != "" {
		col, err := warp.ParseColor(c.Output.Color)
		if err != nil {
			errs = append(errs, err)
		}
		wc.Color = col
	}
	if err := wc.Validate(); err != nil {
		errs = append(errs, err)
	}
	return wc, errors.Join(errs...)
}

// Pipeline builds the pipeline configuration, placing the template in the
// output frame.
func (c Config) Pipeline() (pipeline.Config, error) {
	if err := c.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	wc, err := c.warpConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	tmpl, err := c.Template.Build(wc.Width, wc.Height)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Template:            tmpl,
		Smoothing:           c.Smoothing,
		ConfidenceThreshold: c.Detection.ConfidenceThreshold,
		Output:              wc,
		Workers:             c.Workers,
	}, nil
}
