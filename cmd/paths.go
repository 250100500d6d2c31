package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// pathsCmd represents the paths command
var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show paths used by the application",
	Example: `  # Show all application paths
  vidagent paths`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Config directory: %s\n", config.ConfigDir)
		fmt.Printf("Data directory: %s\n", config.DataDir)
		fmt.Printf("Cache directory: %s\n", config.CacheDir)
		if config.DatabaseURL == "" {
			fmt.Printf("Database: %s\n", config.StorePath())
		} else {
			fmt.Printf("Database: %s via database_url\n", config.DatabaseDriver)
		}
		fmt.Printf("Usage database: %s\n", config.UsagePath())
		fmt.Printf("Plans file: %s\n", config.PlansFile)
		fmt.Printf("MCP log: %s\n", filepath.Join(config.CacheDir, "mcp.log"))
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}
