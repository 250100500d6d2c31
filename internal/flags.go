package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AddTranscriptionFlags adds flags related to transcription functionality
func AddTranscriptionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("fallback-whisper", false, "Fallback to Whisper if no captions available (costs money)")
}

// AddOpenAIFlags adds flags related to OpenAI API functionality
func AddOpenAIFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("model", "m", "", "OpenAI model to use for summaries and chat")
	cmd.Flags().StringP("prompt", "p", "", "Custom prompt (string or file path)")
}

// AddUserFlag adds the --user flag naming whose usage and documents a command acts on
func AddUserFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", "", "User ID (default from config user_id)")
}

// HandleUserFlag applies --user to the config
func HandleUserFlag(cmd *cobra.Command, config *Config) error {
	flag := cmd.Flags().Lookup("user")
	if flag == nil || !flag.Changed {
		return nil
	}
	user, err := cmd.Flags().GetString("user")
	if err != nil {
		return fmt.Errorf("failed to get user flag: %w", err)
	}
	if user == "" {
		return ErrNoUser
	}
	config.UserID = user
	return nil
}

// HandlePromptFlag processes the --prompt flag to set custom prompt
func HandlePromptFlag(cmd *cobra.Command, app *App) error {
	promptFlag := cmd.Flags().Lookup("prompt")
	if promptFlag == nil || !promptFlag.Changed {
		return nil
	}

	prompt, err := cmd.Flags().GetString("prompt")
	if err != nil {
		return fmt.Errorf("failed to get prompt flag: %w", err)
	}
	if prompt == "" {
		return nil
	}

	app.SetPromptManager(NewPromptManager(app.config.ConfigDir, prompt))

	if IsLikelyFilePath(prompt) && FileExists(prompt) {
		app.ui.Verbose("Using custom prompt file: %s\n", prompt)
	} else {
		app.ui.Verbose("Using custom prompt string\n")
	}
	return nil
}

// HandleVerboseFlag processes the --verbose and --quiet flags to update config
func HandleVerboseFlag(cmd *cobra.Command, config *Config) error {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	config.Verbose = config.Verbose || verbose
	config.Quiet = config.Quiet || quiet
	return nil
}

// ValidateOpenAIRequirements validates OpenAI API key and model from command flags and config
func ValidateOpenAIRequirements(cmd *cobra.Command, config *Config) error {
	if err := ValidateOpenAIAPIKey(config.OpenAIAPIKey); err != nil {
		return err
	}

	if f := cmd.Flags().Lookup("model"); f != nil {
		if model, _ := cmd.Flags().GetString("model"); model != "" {
			if err := ValidateModel(model); err != nil {
				return err
			}
			config.ChatModel = model
			return nil
		}
	}
	if err := ValidateModel(config.ChatModel); err != nil {
		return fmt.Errorf("invalid model in config: %w", err)
	}
	if err := ValidateModel(config.TitleModel); err != nil {
		return fmt.Errorf("invalid title model in config: %w", err)
	}
	return nil
}
