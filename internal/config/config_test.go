package config

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/andresmejia3/steady/internal/warp"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steady.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `smoothing:
  window: 9
  mode: causal
output:
  width: 128
  height: 160
  background: color
  color: "#FF000080"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.Smoothing.Window = 9
	want.Smoothing.Mode = smoother.ModeCausal
	want.Output = OutputConfig{Width: 128, Height: 160, Background: "color", Color: "#FF000080"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_CustomTemplatePoints(t *testing.T) {
	path := writeConfig(t, `template:
  points:
    - {x: 0.25, y: 0.5}
    - {x: 0.75, y: 0.5}
  scale: 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []geometry.Point{{X: 0.25, Y: 0.5}, {X: 0.75, Y: 0.5}}
	if diff := cmp.Diff(want, cfg.Template.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown key", yaml: "smoothing:\n  windw: 3\n"},
		{name: "bad yaml", yaml: "smoothing: [\n"},
		{name: "unknown template", yaml: "template:\n  name: nope\n"},
		{name: "bad colour", yaml: "output:\n  color: red\n"},
		{name: "zero width", yaml: "output:\n  width: 0\n"},
		{name: "bad mode", yaml: "smoothing:\n  mode: median\n"},
		{name: "threshold", yaml: "detection:\n  confidence_threshold: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Workers = -1
	cfg.Output.Width = 0
	cfg.Smoothing.Window = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"workers", "output", "smoothing"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestPipeline_PlacesTemplateInOutput(t *testing.T) {
	cfg := Default()
	cfg.Output.Width, cfg.Output.Height = 200, 100
	cfg.Template = TemplateConfig{Points: []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, Scale: 1}
	cfg.Output.Background = string(warp.BackgroundColor)
	cfg.Output.Color = "#336699"

	pc, err := cfg.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	// The 100px square is centred horizontally in the 200x100 frame
	want := []geometry.Point{{X: 50, Y: 0}, {X: 150, Y: 100}}
	if diff := cmp.Diff(want, pc.Template.Set().Points()); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
	if pc.Template.Name != "custom" {
		t.Errorf("template name = %q, want custom", pc.Template.Name)
	}
	if pc.Output.Color != (color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}) {
		t.Errorf("output colour = %v", pc.Output.Color)
	}
	if pc.Smoothing != cfg.Smoothing {
		t.Errorf("smoothing = %+v, want %+v", pc.Smoothing, cfg.Smoothing)
	}
}

func TestBuiltinTemplates(t *testing.T) {
	for _, name := range TemplateNames() {
		t.Run(name, func(t *testing.T) {
			tmpl, err := TemplateConfig{Name: name, Scale: 1}.Build(112, 112)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if tmpl.Len() != 5 {
				t.Errorf("Len = %d, want 5", tmpl.Len())
			}
			b := tmpl.Set().Bounds()
			if b.MinX < 0 || b.MinY < 0 || b.MaxX > 112 || b.MaxY > 112 {
				t.Errorf("template %s leaves the frame: %+v", name, b)
			}
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, Default()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := writeConfig(t, buf.String())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}
