package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

var (
	commit = "" // overridden at build time via -ldflags
	date   = ""
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Example: `  # Show version information
  vidagent version`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vidagent v%s (commit: %s, built %s)\n", internal.Version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
