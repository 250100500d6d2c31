package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
)

var (
	config     *internal.Config
	configFile string
)

// forceExitAfter bounds how long commands get to stop after an interrupt
const forceExitAfter = 15 * time.Second

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vidagent [YouTube URL or ID]",
	Short: "AI assistant for YouTube videos",
	Long: `vidagent helps creators work with YouTube videos using AI.

It fetches captions (or transcribes the audio with Whisper), summarizes
videos, generates and rates titles, creates thumbnails and answers
questions about a video. The same features are served over HTTP
(vidagent serve) and as MCP tools (vidagent mcp).

Called with a video, it prints a summary.`,
	Example: `  # Summarize a YouTube video (default behavior)
  vidagent "https://www.youtube.com/watch?v=tAP1eZYEuKA"
  vidagent tAP1eZYEuKA

  # Use a specific OpenAI model
  vidagent "https://youtu.be/tAP1eZYEuKA" --model gpt-4o

  # Use custom prompt for summary
  vidagent tAP1eZYEuKA --prompt "tldr: {{.Transcript}}"

  # Fallback to Whisper if no captions available (costs money)
  vidagent "https://youtu.be/tAP1eZYEuKA" --fallback-whisper`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.HandleVerboseFlag(cmd, config); err != nil {
			return err
		}
		return internal.HandleUserFlag(cmd, config)
	},
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := args[0]
		if internal.IsLikelyCommand(arg) {
			var suggestions []string
			for _, c := range cmd.Commands() {
				name := c.Name()
				if strings.Contains(name, arg) || (len(arg) <= len(name) && strings.Contains(arg, name[:len(arg)])) {
					suggestions = append(suggestions, name)
				}
			}
			if len(suggestions) > 0 {
				return fmt.Errorf("'%s' doesn't look like a YouTube URL or video ID. Did you mean: %s?", arg, strings.Join(suggestions, ", "))
			}
			return fmt.Errorf("'%s' doesn't look like a YouTube URL or video ID. Use --help to see available commands", arg)
		}
		return runSummarize(cmd, arg)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal. Cleaning up and shutting down...")
		cancel()

		// servers shut down gracefully on cancel, anything stuck gets forced out
		select {
		case <-done:
		case <-time.After(forceExitAfter):
			fmt.Fprintln(os.Stderr, "Warning: shutdown timed out, forcing exit")
			cleanupTemp()
			os.Exit(1)
		}
	}()

	rootCmd.SetContext(ctx)
	err := rootCmd.Execute()
	close(done)

	if ctx.Err() != nil {
		cleanupTemp()
	}
	return err
}

func cleanupTemp() {
	if config == nil {
		return
	}
	if err := internal.CleanupTempDir(config.TempDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error cleaning up temporary files: %v\n", err)
	}
}

// initConfig runs after flags are parsed so --config is honoured
func initConfig() {
	config = internal.InitConfig(configFile)

	if err := internal.EnsureDirs(config.ConfigDir, config.DataDir, config.CacheDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating XDG directories: %v\n", err)
		os.Exit(1)
	}
	if err := internal.EnsureDefaultConfig(config.ConfigDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to ensure default config: %v\n", err)
	}
	if err := internal.EnsureDefaultPrompt(config.ConfigDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to ensure default prompt: %v\n", err)
	}
	if err := internal.EnsureDefaultPlans(config.ConfigDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to ensure default plans: %v\n", err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	internal.AddTranscriptionFlags(rootCmd)
	internal.AddOpenAIFlags(rootCmd)
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for debugging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only print results")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is $XDG_CONFIG_HOME/vidagent/config.toml)")
}
