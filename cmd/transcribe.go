package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

// transcribeCmd represents the transcribe command
var transcribeCmd = &cobra.Command{
	Use:   "transcribe [YouTube URL or ID]",
	Short: "Get transcript from YouTube (stored or downloaded)",
	Example: `  # Get transcript from YouTube captions
  vidagent transcribe "https://www.youtube.com/watch?v=tAP1eZYEuKA"
  vidagent transcribe tAP1eZYEuKA

  # Include caption timestamps
  vidagent transcribe tAP1eZYEuKA --timestamps

  # Save transcript to file
  vidagent transcribe tAP1eZYEuKA -o transcript.txt

  # Use Whisper if no captions available (costs money)
  vidagent transcribe tAP1eZYEuKA --fallback-whisper`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fallbackWhisper, _ := cmd.Flags().GetBool("fallback-whisper")
		timestamps, _ := cmd.Flags().GetBool("timestamps")
		outputFile, _ := cmd.Flags().GetString("output")

		return withServices(cmd.Context(), func(s *services) error {
			result, err := s.app.TranscriptForCLI(cmd.Context(), args[0], fallbackWhisper)
			if err != nil {
				return err
			}
			if result.Cached && !config.Quiet {
				fmt.Fprintln(os.Stderr, "Using transcript from the database")
			}

			transcript := formatSegments(result, timestamps)
			if outputFile != "" {
				return os.WriteFile(outputFile, []byte(transcript), 0644)
			}
			fmt.Println(transcript)
			return nil
		})
	},
}

func formatSegments(result *internal.TranscriptResult, timestamps bool) string {
	if !timestamps {
		return result.Text()
	}
	lines := make([]string, 0, len(result.Segments))
	for _, seg := range result.Segments {
		if seg.Timestamp == "" {
			lines = append(lines, seg.Text)
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", seg.Timestamp, seg.Text))
	}
	return strings.Join(lines, "\n")
}

func init() {
	internal.AddTranscriptionFlags(transcribeCmd)
	internal.AddUserFlag(transcribeCmd)
	transcribeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	transcribeCmd.Flags().BoolP("timestamps", "t", false, "Prefix each caption line with its timestamp")
	rootCmd.AddCommand(transcribeCmd)
}
