package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/store"
)

var titleCmd = &cobra.Command{
	Use:   "title [YouTube URL or ID]",
	Short: "Generate an SEO friendly title for a video",
	Long: `Generate one SEO friendly title (100 characters or less) for a video.

The title is stored with clickbait, SEO and readability scores. Without
--summary the transcript is fetched and summarized first.`,
	Example: `  # Generate a title from the video's transcript
  vidagent title tAP1eZYEuKA

  # Generate from your own summary with extra guidance
  vidagent title tAP1eZYEuKA --summary "A deep dive into Go's scheduler" --considerations "for beginners"

  # List generated titles and rate one
  vidagent title list tAP1eZYEuKA
  vidagent title rate 2f1c0c1e-... 4 --feedback "catchy"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.ValidateOpenAIRequirements(cmd, config); err != nil {
			return err
		}
		summary, _ := cmd.Flags().GetString("summary")
		considerations, _ := cmd.Flags().GetString("considerations")
		fallbackWhisper, _ := cmd.Flags().GetBool("fallback-whisper")

		return withServices(cmd.Context(), func(s *services) error {
			if err := internal.HandlePromptFlag(cmd, s.app); err != nil {
				return err
			}
			youtubeURL, videoID := internal.ParseArg(args[0])
			if summary == "" {
				result, err := s.app.TranscriptForCLI(cmd.Context(), youtubeURL, fallbackWhisper)
				if err != nil {
					return err
				}
				if summary, err = s.app.GenerateSummary(cmd.Context(), youtubeURL, result.Text()); err != nil {
					return err
				}
			}

			title, err := s.app.GenerateTitle(cmd.Context(), config.UserID, videoID, summary, considerations)
			if err != nil {
				return err
			}
			printTitle(*title)
			return nil
		})
	},
}

var titleListCmd = &cobra.Command{
	Use:   "list [YouTube URL or ID]",
	Short: "List generated titles of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(s *services) error {
			_, videoID := internal.ParseArg(args[0])
			titles, err := s.app.Titles(cmd.Context(), config.UserID, videoID)
			if err != nil {
				return err
			}
			if len(titles) == 0 && !config.Quiet {
				fmt.Println("No titles generated yet")
			}
			for _, t := range titles {
				printTitle(t)
			}
			return nil
		})
	},
}

var titleRateCmd = &cobra.Command{
	Use:   "rate [title ID] [1-5]",
	Short: "Rate a generated title",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, err := strconv.Atoi(args[1])
		if err != nil {
			return internal.ErrInvalidRating
		}
		feedback, _ := cmd.Flags().GetString("feedback")

		return withServices(cmd.Context(), func(s *services) error {
			summary, err := s.app.RateTitle(cmd.Context(), config.UserID, args[0], rating, feedback)
			if err != nil {
				return err
			}
			fmt.Printf("Average rating %.1f from %d ratings\n", summary.Average, summary.Count)
			return nil
		})
	},
}

func printTitle(t store.Title) {
	fmt.Println(t.Title)
	if config.Quiet {
		return
	}
	fmt.Printf("  id: %s\n", t.ID)
	fmt.Printf("  clickbait %.1f | seo %.1f | readability %.1f", t.Metrics.ClickbaitScore, t.Metrics.SEOScore, t.Metrics.ReadabilityScore)
	if t.TotalRatings > 0 {
		fmt.Printf(" | rated %.1f (%d)", t.AvgRating, t.TotalRatings)
	}
	fmt.Println()
}

func init() {
	internal.AddTranscriptionFlags(titleCmd)
	internal.AddOpenAIFlags(titleCmd)
	titleCmd.Flags().String("summary", "", "Summary of the video (default: summarize the transcript)")
	titleCmd.Flags().String("considerations", "", "Extra guidance such as audience or keywords")
	titleCmd.PersistentFlags().StringP("user", "u", "", "User ID (default from config user_id)")
	titleRateCmd.Flags().String("feedback", "", "Optional feedback on the title")

	titleCmd.AddCommand(titleListCmd, titleRateCmd)
	rootCmd.AddCommand(titleCmd)
}
