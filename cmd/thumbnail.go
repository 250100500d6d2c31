package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/server"
)

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail [YouTube URL or ID]",
	Short: "Generate a thumbnail image with DALL-E 3 (costs money)",
	Long: `Generate a 1792x1024 thumbnail for a video with DALL-E 3 and store it.

Without --prompt the prompt is built from the video title. The generated
image is served by a temporary local endpoint while it is stored; use
--output to save it as a file.`,
	Example: `  # Generate a thumbnail from the video title
  vidagent thumbnail tAP1eZYEuKA -o thumbnail.png

  # Describe the image yourself
  vidagent thumbnail tAP1eZYEuKA --prompt "a gopher juggling goroutines, neon style"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.ValidateOpenAIAPIKey(config.OpenAIAPIKey); err != nil {
			return err
		}
		prompt, _ := cmd.Flags().GetString("prompt")
		outputFile, _ := cmd.Flags().GetString("output")
		ctx := cmd.Context()

		return withServices(ctx, func(s *services) error {
			// upload slots need a listener reachable from this process
			blobs, err := server.StartBlobEndpoint(ctx, s.store, s.logger)
			if err != nil {
				return fmt.Errorf("starting blob endpoint: %w", err)
			}
			defer blobs.Close()
			s.store.SetPublicURL(blobs.URL)

			_, videoID := internal.ParseArg(args[0])
			if prompt == "" {
				details, err := s.app.Details(ctx, videoID)
				if err != nil {
					return err
				}
				if prompt, err = internal.ThumbnailPrompt(details.Title, ""); err != nil {
					return err
				}
			}

			spinner := internal.NewUIManager(config.Verbose, config.Quiet).NewSpinner("Generating thumbnail...")
			result := s.app.GenerateThumbnail(ctx, config.UserID, videoID, prompt)
			spinner.Finish()
			if !result.Success {
				return errors.New(result.Error)
			}

			latest := result.Images[len(result.Images)-1]
			if outputFile != "" {
				blob, err := s.store.GetBlob(ctx, latest.StorageID)
				if err != nil {
					return err
				}
				if err := os.WriteFile(outputFile, blob.Data, 0644); err != nil {
					return fmt.Errorf("writing thumbnail: %w", err)
				}
			}

			if !config.Quiet {
				fmt.Printf("Thumbnail stored as %s (%d for this video)\n", latest.StorageID, len(result.Images))
				if outputFile != "" {
					fmt.Printf("Saved to %s\n", outputFile)
				}
			}
			return nil
		})
	},
}

func init() {
	internal.AddUserFlag(thumbnailCmd)
	thumbnailCmd.Flags().StringP("prompt", "p", "", "Image prompt (default: built from the video title)")
	thumbnailCmd.Flags().StringP("output", "o", "", "Save the generated image to this file")
	rootCmd.AddCommand(thumbnailCmd)
}
