package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the app as MCP tools for the configured user
type MCPServer struct {
	app       *App
	userID    string
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(app *App, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		app:    app,
		userID: app.config.UserID,
		logger: logger,
		mcpServer: server.NewMCPServer(
			"vidagent",
			Version,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

func urlArg() mcp.ToolOption {
	return mcp.WithString("url",
		mcp.Description("YouTube video URL or ID"),
		mcp.Required(),
	)
}

// registerTools registers all available MCP tools
func (s *MCPServer) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_video_details",
		mcp.WithDescription("Get a video's title, channel, publish date, view/like/comment counts and caption availability. Check 'Has Captions' to pick a transcript tool: if true, use get_youtube_transcript (free); if false, consider transcribe_youtube_whisper (paid)."),
		urlArg(),
	), s.handleGetDetails)

	s.mcpServer.AddTool(mcp.NewTool("get_youtube_transcript",
		mcp.WithDescription("Get existing YouTube captions as a timestamped transcript (FREE). Transcripts fetched before are served from the database. Fails if the video has no captions."),
		urlArg(),
	), s.handleGetTranscript)

	s.mcpServer.AddTool(mcp.NewTool("transcribe_youtube_whisper",
		mcp.WithDescription("Create transcript using OpenAI Whisper API (PAID). Use only when the video has no captions and the user explicitly agrees to incur costs. Always ask user for confirmation before calling this tool."),
		urlArg(),
	), s.handleWhisperTranscribe)

	s.mcpServer.AddTool(mcp.NewTool("generate_title",
		mcp.WithDescription("Generate one SEO friendly title (100 characters or less) for a video and store it with clickbait, SEO and readability scores. Counts against the title generation allowance."),
		urlArg(),
		mcp.WithString("summary", mcp.Description("Summary of the video; when empty the transcript is summarized first")),
		mcp.WithString("considerations", mcp.Description("Extra guidance for the title, e.g. audience or keywords")),
	), s.handleGenerateTitle)

	s.mcpServer.AddTool(mcp.NewTool("generate_thumbnail",
		mcp.WithDescription("Generate a 1792x1024 thumbnail image with DALL-E 3, store it and return all stored thumbnails for the video (PAID). Counts against the image generation allowance."),
		urlArg(),
		mcp.WithString("prompt", mcp.Description("Image prompt; when empty one is built from the video title")),
	), s.handleGenerateThumbnail)

	s.mcpServer.AddTool(mcp.NewTool("ask_about_video",
		mcp.WithDescription("Ask the video agent a question about one video. The agent reads the video's transcript."),
		urlArg(),
		mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
	), s.handleAskAboutVideo)
}

// toolError logs the detailed error and returns it to the client
func (s *MCPServer) toolError(tool, message string, err error) (*mcp.CallToolResult, error) {
	s.logger.Error("tool failed", slog.String("tool", tool), slog.Any("error", err))
	return mcp.NewToolResultErrorFromErr(message, err), nil
}

func (s *MCPServer) handleGetDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}
	s.logger.Info("tool called", slog.String("tool", "get_video_details"), slog.String("url", url))

	metadata, err := s.app.Metadata(ctx, url)
	if err != nil {
		return s.toolError("get_video_details", "details error", err)
	}
	d := NewVideoDetails(metadata, s.app.now())

	var buf strings.Builder
	fmt.Fprintf(&buf, "Title: %s\n", d.Title)
	fmt.Fprintf(&buf, "Channel: %s (%s subscribers)\n", d.Channel.Title, d.Channel.Subscribers)
	fmt.Fprintf(&buf, "Published: %s\n", d.PublishedAt)
	fmt.Fprintf(&buf, "Views: %s | Likes: %s | Comments: %s\n", d.Views, d.Likes, d.Comments)
	fmt.Fprintf(&buf, "Duration: %.0f seconds\n", metadata.Duration)
	fmt.Fprintf(&buf, "Has Captions: %t\n", metadata.HasCaptions)
	if d.Thumbnail != "" {
		fmt.Fprintf(&buf, "Thumbnail: %s\n", d.Thumbnail)
	}
	fmt.Fprintf(&buf, "Description: %s\n", metadata.Description)
	if len(metadata.Tags) > 0 {
		fmt.Fprintf(&buf, "Tags: %s\n", strings.Join(metadata.Tags, ", "))
	}
	for _, ch := range metadata.Chapters {
		fmt.Fprintf(&buf, "Chapter (%.0f-%.0f): %s\n", ch.StartTime, ch.EndTime, ch.Title)
	}

	return mcp.NewToolResultText(buf.String()), nil
}

func formatTranscript(r *TranscriptResult) string {
	var buf strings.Builder
	if r.Cached {
		buf.WriteString("(from database)\n")
	}
	for _, seg := range r.Segments {
		if seg.Timestamp != "" {
			fmt.Fprintf(&buf, "[%s] ", seg.Timestamp)
		}
		buf.WriteString(seg.Text)
		buf.WriteString("\n")
	}
	return buf.String()
}

func (s *MCPServer) handleGetTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}
	s.logger.Info("tool called", slog.String("tool", "get_youtube_transcript"), slog.String("url", url))

	result, err := s.app.Transcript(ctx, s.userID, url, false)
	if err != nil {
		return s.toolError("get_youtube_transcript", "no transcript available - use get_video_details to check caption availability, or consider transcribe_youtube_whisper (paid)", err)
	}
	return mcp.NewToolResultText(formatTranscript(result)), nil
}

func (s *MCPServer) handleWhisperTranscribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}
	s.logger.Info("tool called", slog.String("tool", "transcribe_youtube_whisper"), slog.String("url", url))

	result, err := s.app.Transcript(ctx, s.userID, url, true)
	if err != nil {
		return s.toolError("transcribe_youtube_whisper", "failed to transcribe audio with Whisper", err)
	}
	return mcp.NewToolResultText(formatTranscript(result)), nil
}

func (s *MCPServer) handleGenerateTitle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}
	summary := request.GetString("summary", "")
	considerations := request.GetString("considerations", "")
	s.logger.Info("tool called", slog.String("tool", "generate_title"), slog.String("url", url))

	videoURL, videoID := ParseArg(url)
	if summary == "" {
		transcript, err := s.app.Transcript(ctx, s.userID, videoURL, false)
		if err != nil {
			return s.toolError("generate_title", "a summary is required when the video has no transcript", err)
		}
		summary, err = s.app.GenerateSummary(ctx, videoURL, transcript.Text())
		if err != nil {
			return s.toolError("generate_title", "failed to summarize video", err)
		}
	}

	title, err := s.app.GenerateTitle(ctx, s.userID, videoID, summary, considerations)
	if err != nil {
		return s.toolError("generate_title", "failed to generate title", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s\n\nClickbait: %.1f | SEO: %.1f | Readability: %.1f",
		title.Title, title.Metrics.ClickbaitScore, title.Metrics.SEOScore, title.Metrics.ReadabilityScore)), nil
}

func (s *MCPServer) handleGenerateThumbnail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}
	prompt := request.GetString("prompt", "")
	s.logger.Info("tool called", slog.String("tool", "generate_thumbnail"), slog.String("url", url))

	_, videoID := ParseArg(url)
	if prompt == "" {
		details, err := s.app.Details(ctx, videoID)
		if err != nil {
			return s.toolError("generate_thumbnail", "failed to build an image prompt", err)
		}
		if prompt, err = ThumbnailPrompt(details.Title, ""); err != nil {
			return s.toolError("generate_thumbnail", "failed to build an image prompt", err)
		}
	}

	result := s.app.GenerateThumbnail(ctx, s.userID, videoID, prompt)
	if !result.Success {
		s.logger.Error("tool failed", slog.String("tool", "generate_thumbnail"), slog.Any("error", result.Err))
		return mcp.NewToolResultError(result.Error), nil
	}
	out, err := json.MarshalIndent(result.Images, "", "  ")
	if err != nil {
		return s.toolError("generate_thumbnail", "failed to encode images", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *MCPServer) handleAskAboutVideo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question parameter is required and must be a string"), nil
	}
	s.logger.Info("tool called", slog.String("tool", "ask_about_video"), slog.String("url", url))

	_, videoID := ParseArg(url)
	answer, err := s.app.Chat(ctx, s.userID, videoID, []ChatMessage{{Role: RoleUser, Content: question}})
	if err != nil {
		return s.toolError("ask_about_video", "failed to answer question", err)
	}
	return mcp.NewToolResultText(answer), nil
}

// Start starts the MCP server using the specified transport
func (s *MCPServer) Start(ctx context.Context, transport string, port int) error {
	if transport == "http" {
		httpServer := server.NewStreamableHTTPServer(s.mcpServer)
		addr := fmt.Sprintf(":%d", port)
		s.logger.Info("starting MCP server", slog.String("transport", "http"), slog.String("addr", addr))

		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start(addr) }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		}
	}

	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	return server.ServeStdio(s.mcpServer)
}

// GetServer returns the underlying MCP server for advanced configuration
func (s *MCPServer) GetServer() *server.MCPServer {
	return s.mcpServer
}
