package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

// detailsCmd represents the details command
var detailsCmd = &cobra.Command{
	Use:     "details [URL]",
	Aliases: []string{"metadata"},
	Short:   "Get details of a YouTube video",
	Example: `  # Get title, channel and statistics of a video
  vidagent details "https://www.youtube.com/watch?v=tAP1eZYEuKA"
  vidagent details tAP1eZYEuKA

  # Print the full yt-dlp metadata instead
  vidagent details tAP1eZYEuKA --raw

  # Save details to file
  vidagent details tAP1eZYEuKA -o details.json

  # Format output as pretty JSON
  vidagent details tAP1eZYEuKA --pretty`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		pretty, _ := cmd.Flags().GetBool("pretty")
		outputFile, _ := cmd.Flags().GetString("output")

		// details only need yt-dlp, no store or usage tracking
		app := internal.NewApp(config, internal.WithLogger(cliLogger(os.Stderr)))
		youtubeURL, videoID := internal.ParseArg(args[0])

		var v any
		var err error
		if raw {
			v, err = app.Metadata(cmd.Context(), youtubeURL)
		} else {
			v, err = app.Details(cmd.Context(), videoID)
		}
		if err != nil {
			return err
		}

		var jsonData []byte
		if pretty {
			jsonData, err = json.MarshalIndent(v, "", "  ")
		} else {
			jsonData, err = json.Marshal(v)
		}
		if err != nil {
			return fmt.Errorf("error converting details to JSON: %w", err)
		}

		if outputFile != "" {
			return os.WriteFile(outputFile, jsonData, 0644)
		}
		fmt.Println(string(jsonData))
		return nil
	},
}

func init() {
	detailsCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	detailsCmd.Flags().Bool("pretty", false, "Format output as pretty JSON")
	detailsCmd.Flags().Bool("raw", false, "Print the full yt-dlp metadata")
	rootCmd.AddCommand(detailsCmd)
}
