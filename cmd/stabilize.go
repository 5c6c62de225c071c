package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/steady/internal/config"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/store"
	"github.com/andresmejia3/steady/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var stabilizeOpts Options

var stabilizeCmd = &cobra.Command{
	Use:   "stabilize",
	Short: "Align every frame so the face stays fixed in the output",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := loadConfig()
		if err != nil {
			utils.ShowError("Failed to load configuration", err, nil)
			return err
		}
		applyFlags(cmd, &cfg, stabilizeOpts)
		_, err = runStabilize(cmd.Context(), cfg, stabilizeOpts)
		return err
	},
}

func init() {
	addDetectionFlags(stabilizeCmd.Flags(), &stabilizeOpts)
	addSmoothingFlags(stabilizeCmd.Flags(), &stabilizeOpts)
	stabilizeCmd.Flags().StringVarP(&stabilizeOpts.OutputPath, "output", "o", "stabilized.mp4", "Output video, or a directory for PNG frames")

	stabilizeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(stabilizeCmd)
}

func validateStabilizeOptions(opts Options) error {
	if err := validateInput(opts.InputPath); err != nil {
		return err
	}
	// Safety Check: Prevent overwriting input which causes corruption
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}

func runStabilize(ctx context.Context, cfg config.Config, opts Options) ([]pipeline.FrameRecord, error) {
	// Child processes (ffmpeg, detectors) are killed as soon as we return
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateStabilizeOptions(opts); err != nil {
		return nil, err
	}
	pcfg, err := cfg.Pipeline()
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}

	in, err := openInput(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open input", err, nil)
		return nil, err
	}

	var videoID string
	if opts.Cache {
		if videoID, err = cacheVideo(ctx, opts.InputPath); err != nil {
			utils.ShowError("Landmark cache unavailable", err, nil)
			return nil, err
		}
	}

	src, err := openLandmarks(ctx, cfg, videoID)
	if err != nil {
		utils.ShowError("Failed to start landmark source", err, nil)
		return nil, err
	}
	defer src.close()

	p, err := pipeline.New(pcfg, src)
	if err != nil {
		var cfgErr *pipeline.ConfigError
		if errors.As(err, &cfgErr) {
			utils.ShowError("Configuration Error", cfgErr.Err, nil)
		}
		return nil, err
	}

	sink, err := openOutput(ctx, opts.OutputPath, in.fps, pcfg.Output.Width, pcfg.Output.Height)
	if err != nil {
		utils.ShowError("Failed to open output", err, nil)
		return nil, err
	}

	total := -1
	if n := in.frames.Len(); n > 0 {
		total = 2 * n
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🧭 Stabilizing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	p.OnProgress(func(stage pipeline.Stage, index int) {
		bar.Add(1)
	})

	records, err := p.Run(ctx, in.frames, sink)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("finalize output: %w", cerr)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			utils.ShowError("Stabilization failed", err, nil)
		}
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "✅ Stabilized %s -> %s\n", summarize(records), opts.OutputPath)

	if videoID != "" {
		if err := recordRun(ctx, videoID, src, pcfg, records); err != nil {
			utils.ShowError("Failed to record run in cache", err, nil)
			return records, err
		}
	}
	return records, nil
}

// recordRun stores fresh detections and the run's transforms.
func recordRun(ctx context.Context, videoID string, src *landmarkSource, pcfg pipeline.Config, records []pipeline.FrameRecord) error {
	if src.detected {
		if err := DB.SaveDetections(ctx, videoID, src.Landmarks(), records); err != nil {
			return err
		}
	}
	runID, err := DB.SaveRun(ctx, videoID, store.RunSettings{
		Template:  pcfg.Template.Name,
		Mode:      string(pcfg.Smoothing.Mode),
		Window:    pcfg.Smoothing.Window,
		GapPolicy: string(pcfg.Smoothing.GapPolicy),
	}, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "💾 Recorded run %s\n", runID)
	return nil
}
