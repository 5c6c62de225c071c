package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/steady/internal/config"
	"github.com/andresmejia3/steady/internal/landmarks"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var extractOpts Options

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Detect landmarks and save them for later stabilization runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := loadConfig()
		if err != nil {
			utils.ShowError("Failed to load configuration", err, nil)
			return err
		}
		applyFlags(cmd, &cfg, extractOpts)
		_, err = runExtract(cmd.Context(), cfg, extractOpts)
		return err
	},
}

func init() {
	addDetectionFlags(extractCmd.Flags(), &extractOpts)
	extractCmd.Flags().StringVarP(&extractOpts.OutputPath, "output", "o", "landmarks.json", "Landmark file to write (an existing file is kept as .bak)")

	extractCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(ctx context.Context, cfg config.Config, opts Options) (*landmarks.File, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateInput(opts.InputPath); err != nil {
		return nil, err
	}
	// Extraction always runs the detector
	cfg.Detection.Landmarks = ""
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

	src, err := openLandmarks(ctx, cfg, "")
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

	bar := progressbar.NewOptions(in.frames.Len(),
		progressbar.OptionSetDescription("🔍 Extracting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	p.OnProgress(func(stage pipeline.Stage, index int) {
		bar.Add(1)
	})

	records, err := p.Analyze(ctx, in.frames)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			utils.ShowError("Extraction failed", err, nil)
		}
		return nil, err
	}

	f := landmarks.FromRecords(src.Landmarks(), records, in.sources)
	if err := landmarks.Save(opts.OutputPath, f); err != nil {
		utils.ShowError("Failed to write landmark file", err, nil)
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "✅ Extracted %s -> %s\n", summarize(records), opts.OutputPath)

	if videoID != "" {
		if err := DB.SaveDetections(ctx, videoID, src.Landmarks(), records); err != nil {
			utils.ShowError("Failed to cache detections", err, nil)
			return f, err
		}
		fmt.Fprintf(os.Stderr, "💾 Cached detections for %s\n", videoID[:12])
	}
	return f, nil
}
