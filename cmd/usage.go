package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/entitlements"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show feature usage for the current period",
	Example: `  # Show your usage
  vidagent usage

  # Show another user's usage
  vidagent usage --user alice`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(s *services) error {
			var (
				usage []entitlements.Usage
				err   error
			)
			switch u := s.usage.(type) {
			case *entitlements.Local:
				usage, err = u.Status(cmd.Context(), config.UserID)
			case *entitlements.Schematic:
				usage, err = u.FeatureUsage(cmd.Context(), config.UserID)
			default:
				return errors.New("usage is not tracked (entitlements = \"none\")")
			}
			if err != nil {
				return err
			}

			if len(usage) == 0 {
				fmt.Printf("No plans cover user %s\n", config.UserID)
				return nil
			}
			fmt.Printf("Usage for %s:\n", config.UserID)
			for _, u := range usage {
				fmt.Printf("  %-18s %d/%d\n", u.Feature, u.Usage, u.Allocation)
			}
			return nil
		})
	},
}

func init() {
	internal.AddUserFlag(usageCmd)
	rootCmd.AddCommand(usageCmd)
}
