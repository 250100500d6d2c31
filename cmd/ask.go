package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

var askCmd = &cobra.Command{
	Use:   "ask [YouTube URL or ID] [question]",
	Short: "Ask the video agent a question about a video",
	Example: `  # Ask about a video's content
  vidagent ask tAP1eZYEuKA "what are the three main arguments?"

  # Questions can span several words without quotes
  vidagent ask tAP1eZYEuKA which tools are mentioned`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.ValidateOpenAIRequirements(cmd, config); err != nil {
			return err
		}
		question := strings.Join(args[1:], " ")

		return withServices(cmd.Context(), func(s *services) error {
			_, videoID := internal.ParseArg(args[0])

			spinner := internal.NewUIManager(config.Verbose, config.Quiet).NewSpinner("Thinking...")
			answer, err := s.app.Chat(cmd.Context(), config.UserID, videoID, []internal.ChatMessage{
				{Role: internal.RoleUser, Content: question},
			})
			spinner.Finish()
			if err != nil {
				return err
			}

			rendered, err := internal.RenderMarkdown(answer)
			if err != nil {
				return fmt.Errorf("rendering markdown: %w", err)
			}
			fmt.Println(rendered)
			return nil
		})
	},
}

func init() {
	internal.AddUserFlag(askCmd)
	askCmd.Flags().StringP("model", "m", "", "OpenAI model to use for the answer")
	rootCmd.AddCommand(askCmd)
}
