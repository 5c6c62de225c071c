package cmd

import (
	"os"

	"github.com/andresmejia3/steady/internal/config"
	"github.com/andresmejia3/steady/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long:  "Prints the --config file merged over the defaults. Redirect it to a file to start a new configuration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := loadConfig()
		if err != nil {
			utils.ShowError("Failed to load configuration", err, nil)
			return err
		}
		return config.Encode(os.Stdout, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
