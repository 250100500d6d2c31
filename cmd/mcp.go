package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/server"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the vidagent MCP server",
	Long: `Run a Model Context Protocol (MCP) server that exposes vidagent as tools.

Tools:
- get_video_details: title, channel, statistics and caption availability
- get_youtube_transcript: captions as a timestamped transcript (free)
- transcribe_youtube_whisper: transcribe the audio with Whisper (paid)
- generate_title: generate and store a scored title
- generate_thumbnail: generate and store a DALL-E 3 thumbnail (paid)
- ask_about_video: ask the video agent a question

Tools act as the configured user_id. Set mcp_log = true to log to
mcp.log in the cache directory.

Transport options:
- stdio (default): Standard MCP transport via stdin/stdout
- http: HTTP transport on specified port (use --port to configure)`,
	Example: `  # Run MCP server with stdio transport (e.g. for Claude Desktop)
  vidagent mcp

  # Run MCP server with HTTP transport on port 8080
  vidagent mcp --transport=http --port=8080

  # Set up Claude Desktop integration
  vidagent mcp setup-claude`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol, so no progress output
		config.Verbose = false
		config.Quiet = true
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		ctx := cmd.Context()

		logger, closeLog := internal.OpenMCPLog(config)
		defer closeLog()

		s, err := newServices(ctx, logger, internal.WithUI(internal.NewUIManager(false, true)))
		if err != nil {
			logger.Error("starting MCP server", slog.Any("error", err))
			return err
		}
		defer s.Close()

		// generated thumbnails are uploaded through this endpoint
		blobs, err := server.StartBlobEndpoint(ctx, s.store, logger)
		if err != nil {
			return fmt.Errorf("starting blob endpoint: %w", err)
		}
		defer blobs.Close()
		s.store.SetPublicURL(blobs.URL)

		return internal.NewMCPServer(s.app, logger).Start(ctx, transport, port)
	},
}

// setupClaudeCmd represents the setup-claude subcommand
var setupClaudeCmd = &cobra.Command{
	Use:   "setup-claude",
	Short: "Configure Claude Desktop to use the vidagent MCP server",
	Long: `Automatically configure Claude Desktop to use vidagent as an MCP server.

This command will:
- Detect Claude Desktop installation and config location
- Add the vidagent MCP server configuration to claude_desktop_config.json
- Preserve existing MCP server configurations
- Set appropriate XDG environment variables for the current platform`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setupClaudeDesktop()
	},
}

// ClaudeDesktopConfig represents the claude_desktop_config.json structure
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents an individual MCP server configuration
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// setupClaudeDesktop implements the setup-claude subcommand
func setupClaudeDesktop() error {
	// Get the path to the current binary
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable path: %w", err)
	}

	// Resolve symlinks to get the actual binary path
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	// Get Claude Desktop config path
	configPath, err := getClaudeDesktopConfigPath()
	if err != nil {
		return fmt.Errorf("getting Claude Desktop config path: %w", err)
	}

	// Check if config file exists - abort if it doesn't
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config for Claude Desktop not found at %s", configPath)
	}

	// Read existing config
	var config ClaudeDesktopConfig
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading existing config: %w", err)
	}

	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing existing config: %w", err)
	}

	// Initialize mcpServers map if it doesn't exist
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]MCPServerConfig)
	}

	// Get XDG base paths so the server finds the vidagent config and database
	xdgPaths := map[string]string{
		"XDG_DATA_HOME":   xdg.DataHome,
		"XDG_CONFIG_HOME": xdg.ConfigHome,
		"XDG_CACHE_HOME":  xdg.CacheHome,
	}

	// Add/update the vidagent MCP server configuration
	config.MCPServers["vidagent"] = MCPServerConfig{
		Command: execPath,
		Args:    []string{"mcp"},
		Env:     xdgPaths,
	}

	// Write updated config back to file
	data, err = json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Successfully configured Claude Desktop MCP server\n")
	fmt.Printf("Restart Claude Desktop to use the vidagent MCP server\n")

	return nil
}

// getClaudeDesktopConfigPath returns the platform-specific config path for Claude Desktop
func getClaudeDesktopConfigPath() (string, error) {
	var configPath string

	switch runtime.GOOS {
	case "darwin":
		// macOS: ~/Library/Application Support/Claude/claude_desktop_config.json
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configPath = filepath.Join(homeDir, "Library", "Application Support", "Claude", "claude_desktop_config.json")

	case "windows":
		// Windows: %APPDATA%/Claude/claude_desktop_config.json
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configPath = filepath.Join(appData, "Claude", "claude_desktop_config.json")

	case "linux":
		// Linux: ~/.config/Claude/claude_desktop_config.json
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configPath = filepath.Join(homeDir, ".config", "Claude", "claude_desktop_config.json")

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return configPath, nil
}

func init() {
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol (stdio or http)")
	mcpCmd.Flags().Int("port", 8080, "Port for HTTP transport (only used with --transport=http)")
	internal.AddUserFlag(mcpCmd)
	mcpCmd.AddCommand(setupClaudeCmd)
	rootCmd.AddCommand(mcpCmd)
}
