package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/steady/internal/config"
	"github.com/andresmejia3/steady/internal/landmarks"
	"github.com/andresmejia3/steady/internal/media"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/andresmejia3/steady/internal/utils"
	"github.com/andresmejia3/steady/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds shared configuration for the stabilize and extract commands.
// Flags that were not set leave the config file's values alone.
type Options struct {
	InputPath     string
	OutputPath    string
	LandmarksPath string
	Detector      string
	NumEngines    int
	Workers       int
	Threshold     float64
	Cache         bool

	Template   string
	Window     int
	Mode       string
	Kernel     string
	GapPolicy  string
	Alpha      float64
	Width      int
	Height     int
	Background string
	Color      string
}

// defaultFPS is used when writing a video from an image directory.
const defaultFPS = 30.0

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".webm": true,
}

func isVideoPath(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// addDetectionFlags registers the flags both commands share.
func addDetectionFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVarP(&opts.InputPath, "input", "i", "", "Input video or directory of images")
	fs.StringVar(&opts.Detector, "detector", "", "Landmark detector command (default: bundled python detector)")
	fs.IntVarP(&opts.NumEngines, "engines", "e", 1, "Number of parallel detector processes")
	fs.IntVarP(&opts.Workers, "workers", "w", 0, "Analysis and warp workers (0 = one per CPU)")
	fs.Float64VarP(&opts.Threshold, "threshold", "t", 0.5, "Face detection confidence threshold")
	fs.StringVar(&opts.Template, "template", "", "Built-in template: "+strings.Join(config.TemplateNames(), ", "))
	fs.BoolVar(&opts.Cache, "cache", false, "Reuse and record detections in the PostgreSQL cache")
}

// addSmoothingFlags registers the smoothing and output flags.
func addSmoothingFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVar(&opts.LandmarksPath, "landmarks", "", "Precomputed landmark file (skips detection)")
	fs.IntVar(&opts.Window, "window", 15, "Smoothing window in frames")
	fs.StringVarP(&opts.Mode, "mode", "m", "centered", "Smoothing mode: centered, weighted, causal")
	fs.StringVar(&opts.Kernel, "kernel", "gaussian", "Weighted kernel: gaussian, triangular")
	fs.StringVar(&opts.GapPolicy, "gap-policy", "window", "Frames without a face: window, hold")
	fs.Float64Var(&opts.Alpha, "alpha", 0, "Causal filter gain (0 = 2/(window+1))")
	fs.IntVar(&opts.Width, "width", 256, "Output width")
	fs.IntVar(&opts.Height, "height", 256, "Output height")
	fs.StringVar(&opts.Background, "background", "black", "Background: black, transparent, edge, color")
	fs.StringVar(&opts.Color, "color", "#000000", "Background colour for --background color (#RRGGBB or #RRGGBBAA)")
}

// applyFlags overlays every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts Options) {
	set := cmd.Flags().Changed
	if set("detector") {
		cfg.Detection.Command = strings.Fields(opts.Detector)
	}
	if set("engines") {
		cfg.Detection.Engines = opts.NumEngines
	}
	if set("workers") {
		cfg.Workers = opts.Workers
	}
	if set("threshold") {
		cfg.Detection.ConfidenceThreshold = opts.Threshold
	}
	if set("template") {
		cfg.Template.Name, cfg.Template.Points = opts.Template, nil
	}
	if set("landmarks") {
		cfg.Detection.Landmarks = opts.LandmarksPath
	}
	if set("window") {
		cfg.Smoothing.Window = opts.Window
	}
	if set("mode") {
		cfg.Smoothing.Mode = smoother.Mode(opts.Mode)
	}
	if set("kernel") {
		cfg.Smoothing.Kernel = smoother.Kernel(opts.Kernel)
	}
	if set("gap-policy") {
		cfg.Smoothing.GapPolicy = smoother.GapPolicy(opts.GapPolicy)
	}
	if set("alpha") {
		cfg.Smoothing.Alpha = opts.Alpha
	}
	if set("width") {
		cfg.Output.Width = opts.Width
	}
	if set("height") {
		cfg.Output.Height = opts.Height
	}
	if set("background") {
		cfg.Output.Background = opts.Background
	}
	if set("color") {
		cfg.Output.Color = opts.Color
	}
}

// validateInput checks the input path exists.
func validateInput(path string) error {
	if path == "" {
		err := errors.New("--input is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input path does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input path", err, nil)
		return err
	}
	return nil
}

// input is an opened frame source and what is known about it.
type input struct {
	frames pipeline.FrameSource
	// sources names each frame for directory inputs.
	sources []string
	fps     float64
}

func openInput(ctx context.Context, path string) (*input, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		src, err := media.NewDirSource(path)
		if err != nil {
			return nil, err
		}
		return &input{frames: src, sources: src.Paths(), fps: defaultFPS}, nil
	}
	src, err := media.NewVideoSource(ctx, path)
	if err != nil {
		return nil, err
	}
	return &input{frames: src, fps: src.FPS()}, nil
}

// openOutput writes a video when path has a video extension and a directory
// of PNG frames otherwise.
func openOutput(ctx context.Context, path string, fps float64, width, height int) (pipeline.FrameSink, error) {
	if isVideoPath(path) {
		return media.NewVideoSink(ctx, path, fps, width, height)
	}
	return media.NewDirSink(path)
}

// landmarkSource is a pipeline.LandmarkSource plus how it was obtained.
type landmarkSource struct {
	pipeline.LandmarkSource
	close func() error
	// detected is set when a detector produced the landmarks.
	detected bool
}

// openLandmarks prefers a landmark file, then the cache, then the detector.
func openLandmarks(ctx context.Context, cfg config.Config, videoID string) (*landmarkSource, error) {
	noop := func() error { return nil }

	if cfg.Detection.Landmarks != "" {
		f, err := landmarks.Load(cfg.Detection.Landmarks)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "📄 Using landmarks from %s\n", cfg.Detection.Landmarks)
		return &landmarkSource{LandmarkSource: landmarks.NewFileSource(f), close: noop}, nil
	}

	if videoID != "" {
		f, ok, err := DB.LoadDetections(ctx, videoID)
		if err != nil {
			return nil, fmt.Errorf("load cached detections: %w", err)
		}
		if ok {
			fmt.Fprintf(os.Stderr, "♻️  Reusing cached detections for %s\n", videoID[:12])
			return &landmarkSource{LandmarkSource: landmarks.NewFileSource(f), close: noop}, nil
		}
	}

	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Detector Engines...\n", cfg.Detection.Engines)
	pool, err := worker.NewPool(ctx, cfg.Detection.Engines, cfg.Detection.Command)
	if err != nil {
		return nil, err
	}
	return &landmarkSource{LandmarkSource: pool, close: pool.Close, detected: true}, nil
}

// cacheVideo registers the input and returns its cache key.
func cacheVideo(ctx context.Context, path string) (string, error) {
	if _, err := openDB(ctx); err != nil {
		return "", err
	}
	videoID, err := utils.GenerateVideoID(path)
	if err != nil {
		return "", fmt.Errorf("generate video ID: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err := DB.EnsureVideoMetadata(ctx, videoID, abs); err != nil {
		return "", fmt.Errorf("register video metadata: %w", err)
	}
	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", videoID[:12])
	return videoID, nil
}

// summary counts absent frames per reason.
type summary struct {
	frames  int
	absent  map[pipeline.AbsenceReason]int
	tracked int
}

func summarize(records []pipeline.FrameRecord) summary {
	s := summary{frames: len(records), absent: make(map[pipeline.AbsenceReason]int)}
	for _, rec := range records {
		if rec.HasRaw {
			s.tracked++
			continue
		}
		s.absent[rec.Absence]++
	}
	return s
}

func (s summary) String() string {
	if len(s.absent) == 0 {
		return fmt.Sprintf("%d frames, face found in all", s.frames)
	}
	reasons := make([]string, 0, len(s.absent))
	for r, n := range s.absent {
		reasons = append(reasons, fmt.Sprintf("%s: %d", r, n))
	}
	sort.Strings(reasons)
	return fmt.Sprintf("%d frames, face found in %d (%s)", s.frames, s.tracked, strings.Join(reasons, ", "))
}
