package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/steady/internal/store"
	"github.com/andresmejia3/steady/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Print the per-frame transforms of a cached run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		runID, err := uuid.Parse(args[0])
		if err != nil {
			utils.ShowError("Invalid run ID", err, nil)
			return err
		}
		db, err := openDB(cmd.Context())
		if err != nil {
			utils.ShowError("Landmark cache unavailable", err, nil)
			return err
		}
		transforms, err := db.RunTransforms(cmd.Context(), runID)
		if err != nil {
			utils.ShowError("Failed to load run", err, nil)
			return err
		}
		if len(transforms) == 0 {
			fmt.Printf("No frames recorded for run %s.\n", runID)
			return nil
		}
		printTransforms(transforms)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func printTransforms(transforms []store.Transform) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FRAME\tRAW\tSMOOTHED\tSTATE\tABSENCE")
	for _, t := range transforms {
		raw := "-"
		if t.Raw != nil {
			raw = t.Raw.String()
		}
		absence := t.Absence
		if absence == "" {
			absence = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.Index, raw, t.Smoothed, t.State, absence)
	}
	w.Flush()
}
