package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

// summarizeCmd represents the summarize command
var summarizeCmd = &cobra.Command{
	Use:   "summarize [YouTube URL or ID] [--fallback-whisper]",
	Short: "Generate summary from YouTube video",
	Example: `  # Generate summary from YouTube video
  vidagent summarize "https://www.youtube.com/watch?v=tAP1eZYEuKA"
  vidagent summarize tAP1eZYEuKA

  # Use specific OpenAI model
  vidagent summarize tAP1eZYEuKA --model gpt-4o

  # Use custom prompt
  vidagent summarize tAP1eZYEuKA --prompt "tldr: {{.Transcript}}"

  # Fallback to Whisper if no captions (costs money)
  vidagent summarize tAP1eZYEuKA --fallback-whisper`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSummarize(cmd, args[0])
	},
}

func runSummarize(cmd *cobra.Command, arg string) error {
	if err := internal.ValidateOpenAIRequirements(cmd, config); err != nil {
		return err
	}

	return withServices(cmd.Context(), func(s *services) error {
		if err := internal.HandlePromptFlag(cmd, s.app); err != nil {
			return err
		}
		youtubeURL, _ := internal.ParseArg(arg)
		fallbackWhisper, _ := cmd.Flags().GetBool("fallback-whisper")
		return s.app.SummarizeYouTube(cmd.Context(), youtubeURL, fallbackWhisper)
	})
}

func init() {
	internal.AddTranscriptionFlags(summarizeCmd)
	internal.AddOpenAIFlags(summarizeCmd)
	internal.AddUserFlag(summarizeCmd)
	internal.AddUserFlag(rootCmd)
	rootCmd.AddCommand(summarizeCmd)
}
