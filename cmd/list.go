package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/steady/internal/utils"
	"github.com/spf13/cobra"
)

var listRuns bool

var listCmd = &cobra.Command{
	Use:   "list [video_id]",
	Short: "List cached videos, or the runs of one video",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd, args)
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listRuns, "runs", "r", false, "List runs instead of videos")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		utils.ShowError("Landmark cache unavailable", err, nil)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	if !listRuns && len(args) == 0 {
		videos, err := db.ListVideos(ctx)
		if err != nil {
			utils.ShowError("Failed to list videos", err, nil)
			return err
		}
		if len(videos) == 0 {
			fmt.Println("No videos found in cache.")
			return nil
		}
		fmt.Fprintln(w, "ID\tPATH\tFRAMES\tLANDMARKS\tRUNS\tINDEXED")
		fmt.Fprintln(w, "--\t----\t------\t---------\t----\t-------")
		for _, v := range videos {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", shortID(v.ID), v.Path, v.Frames, v.Landmarks, v.Runs, v.IndexedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	}

	var videoID string
	if len(args) == 1 {
		videoID = args[0]
	}
	runs, err := db.ListRuns(ctx, videoID)
	if err != nil {
		utils.ShowError("Failed to list runs", err, nil)
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found in cache.")
		return nil
	}
	fmt.Fprintln(w, "RUN\tVIDEO\tTEMPLATE\tMODE\tWINDOW\tGAPS\tFRAMES\tABSENT\tCREATED")
	fmt.Fprintln(w, "---\t-----\t--------\t----\t------\t----\t------\t------\t-------")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n", r.ID, shortID(r.VideoID), r.Settings.Template, r.Settings.Mode,
			r.Settings.Window, r.Settings.GapPolicy, r.Frames, r.Absent, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
