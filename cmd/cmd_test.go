package cmd

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/steady/internal/config"
	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/landmarks"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/spf13/cobra"
)

// silenceStderr discards stderr for the rest of the test.
func silenceStderr(t *testing.T) {
	t.Helper()
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stderr
	os.Stderr = devNull
	t.Cleanup(func() {
		os.Stderr = old
		devNull.Close()
	})
}

func TestIsVideoPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"out.mp4", true},
		{"OUT.MOV", true},
		{"clip.webm", true},
		{"frames", false},
		{"frames/", false},
		{"landmarks.json", false},
	}
	for _, tt := range tests {
		if got := isVideoPath(tt.path); got != tt.want {
			t.Errorf("isVideoPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestResolveDBURL(t *testing.T) {
	old := dbURL
	t.Cleanup(func() { dbURL = old })

	dbURL = ""
	t.Setenv("STEADY_DB", "")
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(); got != defaultDBURL {
		t.Errorf("resolveDBURL() = %q, want default", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "steady")
	if got, want := resolveDBURL(), "postgres://u:p@db:5432/steady"; got != want {
		t.Errorf("resolveDBURL() = %q, want %q", got, want)
	}

	t.Setenv("STEADY_DB", "postgres://cache/steady")
	if got, want := resolveDBURL(), "postgres://cache/steady"; got != want {
		t.Errorf("resolveDBURL() = %q, want %q", got, want)
	}

	dbURL = "postgres://flag/steady"
	if got := resolveDBURL(); got != dbURL {
		t.Errorf("resolveDBURL() = %q, want the flag value", got)
	}
}

func TestApplyFlags_OnlyOverridesSetFlags(t *testing.T) {
	var opts Options
	c := &cobra.Command{Use: "test"}
	addDetectionFlags(c.Flags(), &opts)
	addSmoothingFlags(c.Flags(), &opts)

	for name, value := range map[string]string{
		"window":   "7",
		"mode":     "causal",
		"detector": "python3 -u other.py --fast",
		"color":    "#112233",
	} {
		if err := c.Flags().Set(name, value); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	cfg := config.Default()
	cfg.Output.Width = 99
	applyFlags(c, &cfg, opts)

	if cfg.Smoothing.Window != 7 || cfg.Smoothing.Mode != smoother.ModeCausal {
		t.Errorf("smoothing = %+v, want window 7 causal", cfg.Smoothing)
	}
	if got := strings.Join(cfg.Detection.Command, "|"); got != "python3|-u|other.py|--fast" {
		t.Errorf("detector command = %q", got)
	}
	if cfg.Output.Color != "#112233" {
		t.Errorf("color = %q", cfg.Output.Color)
	}
	// Unset flags keep the file value, not the flag default
	if cfg.Output.Width != 99 {
		t.Errorf("width = %d, want 99 from the config", cfg.Output.Width)
	}
}

func TestValidateStabilizeOptions(t *testing.T) {
	silenceStderr(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(video, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "Valid options", opts: Options{InputPath: video, OutputPath: filepath.Join(dir, "out.mp4")}},
		{name: "Directory input", opts: Options{InputPath: dir, OutputPath: filepath.Join(dir, "out")}},
		{name: "Missing input flag", opts: Options{OutputPath: "out.mp4"}, wantErr: true},
		{name: "Input does not exist", opts: Options{InputPath: filepath.Join(dir, "nope.mp4"), OutputPath: "out.mp4"}, wantErr: true},
		{name: "Output overwrites input", opts: Options{InputPath: video, OutputPath: video}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateStabilizeOptions(tt.opts); (err != nil) != tt.wantErr {
				t.Errorf("validateStabilizeOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := confirm(strings.NewReader(tt.input), "continue?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	records := []pipeline.FrameRecord{
		{Index: 0, HasRaw: true},
		{Index: 1, Absence: pipeline.AbsentNoFace},
		{Index: 2, Absence: pipeline.AbsentLowConfidence},
		{Index: 3, Absence: pipeline.AbsentNoFace},
	}
	got := summarize(records).String()
	want := "4 frames, face found in 1 (low-confidence: 1, no-face: 2)"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
	if got := summarize(records[:1]).String(); got != "1 frames, face found in all" {
		t.Errorf("summary = %q", got)
	}
}

// TestRunStabilize_FromLandmarkFile runs the whole command over an image
// directory with precomputed landmarks, so neither a detector nor ffmpeg is
// needed.
func TestRunStabilize_FromLandmarkFile(t *testing.T) {
	silenceStderr(t)
	const frames, size = 6, 64
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(inDir, 0755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Output.Width, cfg.Output.Height = size, size
	cfg.Smoothing.Window = 3
	cfg.Workers = 2
	tmpl, err := cfg.Template.Build(size, size)
	if err != nil {
		t.Fatal(err)
	}

	f := &landmarks.File{Version: landmarks.FormatVersion, Landmarks: tmpl.Len()}
	for i := 0; i < frames; i++ {
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		for p := range img.Pix {
			img.Pix[p] = uint8(40 * i)
		}
		img.SetRGBA(0, 0, color.RGBA{A: 255})
		fh, err := os.Create(filepath.Join(inDir, "frame"+string(rune('a'+i))+".png"))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(fh, img); err != nil {
			t.Fatal(err)
		}
		fh.Close()

		fr := landmarks.Frame{Index: i, Faces: []pipeline.Detection{}}
		if i != 3 {
			pts := tmpl.Set().Points()
			for j := range pts {
				pts[j].X += float64(i)
			}
			fr.Faces = append(fr.Faces, pipeline.Detection{Points: pts, Confidence: 0.9, Box: geometry.Rect{MaxX: size, MaxY: size}})
		}
		f.Frames = append(f.Frames, fr)
	}
	lmPath := filepath.Join(dir, "landmarks.json")
	if err := landmarks.Save(lmPath, f); err != nil {
		t.Fatal(err)
	}
	cfg.Detection.Landmarks = lmPath

	records, err := runStabilize(context.Background(), cfg, Options{InputPath: inDir, OutputPath: outDir})
	if err != nil {
		t.Fatalf("runStabilize: %v", err)
	}
	if len(records) != frames {
		t.Fatalf("got %d records, want %d", len(records), frames)
	}
	for i, rec := range records {
		if rec.Index != i {
			t.Errorf("record %d has index %d", i, rec.Index)
		}
		if (i == 3) == rec.HasRaw {
			t.Errorf("frame %d HasRaw = %v", i, rec.HasRaw)
		}
		if _, err := os.Stat(filepath.Join(outDir, "frame_00000"+string(rune('0'+i))+".png")); err != nil {
			t.Errorf("missing output frame %d: %v", i, err)
		}
	}
	if records[3].Absence != pipeline.AbsentNoFace {
		t.Errorf("frame 3 absence = %q, want no-face", records[3].Absence)
	}
}

func TestRunStabilize_CardinalityMismatch(t *testing.T) {
	silenceStderr(t)
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	if err := os.Mkdir(inDir, 0755); err != nil {
		t.Fatal(err)
	}
	fh, err := os.Create(filepath.Join(inDir, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(fh, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	fh.Close()

	// Three-point landmarks against the five-point default template
	f := &landmarks.File{Version: landmarks.FormatVersion, Landmarks: 3, Frames: []landmarks.Frame{{Index: 0, Faces: []pipeline.Detection{}}}}
	lmPath := filepath.Join(dir, "landmarks.json")
	if err := landmarks.Save(lmPath, f); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Detection.Landmarks = lmPath

	_, err = runStabilize(context.Background(), cfg, Options{InputPath: inDir, OutputPath: filepath.Join(dir, "out")})
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	if !strings.Contains(err.Error(), "landmark source reports 3") {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Errorf("output must not be created for an invalid configuration, stat err = %v", err)
	}
}
