package cmd

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

// cpCmd copies the transcript to the system clipboard instead of printing to stdout.
var cpCmd = &cobra.Command{
	Use:   "cp [URL]",
	Short: "Copy a transcript or the latest generated title to the clipboard",
	Example: `  # Copy transcript from YouTube captions
  vidagent cp "https://www.youtube.com/watch?v=tAP1eZYEuKA"
  vidagent cp tAP1eZYEuKA

  # Copy the most recently generated title
  vidagent cp tAP1eZYEuKA --title

  # Use Whisper if no captions available (costs money)
  vidagent cp tAP1eZYEuKA --fallback-whisper`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		copyTitle, _ := cmd.Flags().GetBool("title")
		fallbackWhisper, _ := cmd.Flags().GetBool("fallback-whisper")

		return withServices(cmd.Context(), func(s *services) error {
			var text, what string
			if copyTitle {
				_, videoID := internal.ParseArg(args[0])
				titles, err := s.app.Titles(cmd.Context(), config.UserID, videoID)
				if err != nil {
					return err
				}
				if len(titles) == 0 {
					return errors.New("no titles generated for this video yet, run 'vidagent title' first")
				}
				text, what = titles[len(titles)-1].Title, "Title"
			} else {
				result, err := s.app.TranscriptForCLI(cmd.Context(), args[0], fallbackWhisper)
				if err != nil {
					return err
				}
				text, what = result.Text(), "Transcript"
			}

			if err := clipboard.WriteAll(text); err != nil {
				return fmt.Errorf("copying to clipboard: %w", err)
			}
			if !config.Quiet {
				fmt.Printf("%s copied to clipboard\n", what)
			}
			return nil
		})
	},
}

func init() {
	internal.AddTranscriptionFlags(cpCmd)
	internal.AddUserFlag(cpCmd)
	cpCmd.Flags().Bool("title", false, "Copy the latest generated title instead of the transcript")
	rootCmd.AddCommand(cpCmd)
}
