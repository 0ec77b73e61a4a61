package commands

import (
	"github.com/spf13/cobra"
)

// configPath is the optional config file; empty searches ./config.yaml and ./config/config.yaml.
var configPath string

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Lead-generation outreach scheduler and delivery worker",
	Long: `outreach schedules generated emails inside a daily send window and
delivers them at most once through MX-routed mail channels.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to config file (default: ./config.yaml)",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(deliverCmd)
}
