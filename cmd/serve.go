package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/server"
)

// defaultBurst is how many requests a user may make back to back
const defaultBurst = 5

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API for a web frontend",
	Long: `Serve the video agent over HTTP.

API routes require "Authorization: Bearer <SERVICE_API_KEY>" and the
calling user in the X-User-ID header. Usage is checked and tracked per
user. Generated thumbnails are stored in the database and served from
/api/storage/{id}; set public_url to the address clients reach.`,
	Example: `  # Serve on the configured address (default :8080)
  SERVICE_API_KEY=secret vidagent serve

  # Serve on another port with Postgres
  DATABASE_URL=postgres://localhost/vidagent vidagent serve --listen :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.ValidateOpenAIRequirements(cmd, config); err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			config.Listen = listen
		}

		logger := internal.NewLogger(os.Stderr, config.Verbose)
		s, err := newServices(cmd.Context(), logger, internal.WithUI(internal.NewUIManager(false, true)))
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Error("shutdown", slog.Any("error", err))
			}
		}()

		srv := server.New(s.app, s.store,
			server.WithAPIKey(config.ServiceAPIKey),
			server.WithRateLimit(config.RateLimit, defaultBurst),
			server.WithLogger(logger),
		)
		logger.Info("starting vidagent",
			slog.String("version", internal.Version),
			slog.String("entitlements", config.Entitlements),
			slog.String("public_url", config.PublicURL),
		)
		return srv.ListenAndServe(cmd.Context(), config.Listen)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (default from config listen)")
	rootCmd.AddCommand(serveCmd)
}
