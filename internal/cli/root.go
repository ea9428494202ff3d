// Package cli implements the aggfs command line.
package cli

import (
	"github.com/spf13/cobra"

	"aggfs/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "aggfs",
	Short: "Serve several directory trees as one merged share",
	Long: `aggfs presents the top-level entries of several physical directories as the
root of a single share. Names that collide across directories get a " (N)"
suffix in configured order; everything below a top-level entry is passed
straight through to the directory that owns it.

Shares are described in aggfs.yaml. A .env file in the working directory is
loaded before the configuration.`,
	SilenceUsage: true,
}

var globalFlags struct {
	configPath string
	verbose    bool
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.configPath, "config", "c", config.DefaultFileName,
		"Path to the share configuration file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.verbose, "verbose", "v", false,
		"Enable debug logging")
}
