package internal

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var youtubeHosts = []string{
	"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com",
	"youtube-nocookie.com", "www.youtube-nocookie.com", "youtu.be",
}

// ParseArg normalizes a YouTube video ID or URL into a watch URL and the video ID.
// Input that is neither is returned unchanged as both values.
func ParseArg(arg string) (string, string) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "https://") || strings.HasPrefix(arg, "http://") {
		videoID, err := getVideoID(arg)
		if err != nil {
			return arg, arg
		}
		return arg, videoID
	}
	return WatchURL(arg), arg
}

// WatchURL is the canonical URL of a video
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// VideoIDExtractor extracts video IDs from YouTube URLs
type VideoIDExtractor func(string) (string, error)

// getVideoID understands watch?v=, youtu.be/, /embed/, /v/, /shorts/ and /live/ URLs
var getVideoID VideoIDExtractor = func(youtubeURL string) (string, error) {
	youtubeURL = strings.TrimSpace(youtubeURL)
	u, err := url.Parse(youtubeURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}

	if !slices.Contains(youtubeHosts, strings.ToLower(u.Host)) {
		return "", fmt.Errorf("not a YouTube URL: %s", youtubeURL)
	}

	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case strings.EqualFold(u.Host, "youtu.be") && parts[0] != "":
		return parts[0], nil
	case len(parts) == 2 && slices.Contains([]string{"embed", "v", "shorts", "live"}, parts[0]) && parts[1] != "":
		return parts[1], nil
	}

	return "", fmt.Errorf("could not extract video ID from URL: %s", youtubeURL)
}

// AskUser is a variable that holds the function for asking user confirmation
// This allows it to be replaced in tests
var AskUser = func(message string) bool {
	fmt.Printf("%s (y/N): ", message)
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		response := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return strings.HasPrefix(response, "y")
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
	return false
}

// CleanupTempDir purges files from a temporary directory
func CleanupTempDir(tempDir string) error {
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return fmt.Errorf("reading temp directory: %w", err)
	}

	for _, entry := range entries {
		filePath := filepath.Join(tempDir, entry.Name())
		if err := os.Remove(filePath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove temporary file %s: %v\n", filePath, err)
		}
	}

	if err := os.Remove(tempDir); err != nil {
		fmt.Fprintf(os.Stderr, "Note: could not remove temp directory %s: %v\n", tempDir, err)
	}
	return nil
}

// getTerminalWidth gets terminal width with fallback
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	if width > 10 {
		return width - 4
	}
	return width
}

// RenderMarkdown renders markdown content with glamour
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(getTerminalWidth()),
		glamour.WithColorProfile(termenv.EnvColorProfile()),
	)
	if err != nil {
		return "", fmt.Errorf("creating terminal renderer: %w", err)
	}

	rendered, err := r.Render(content)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return rendered, nil
}

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// SupportedModels are the chat models accepted for summaries, titles and chat
var SupportedModels = []string{"gpt-4o", "gpt-4o-mini", "o4-mini", "gpt-4.1-nano"}

// ValidateModel checks if the model is supported
func ValidateModel(model string) error {
	if slices.Contains(SupportedModels, model) {
		return nil
	}
	return fmt.Errorf("unsupported model: %s (supported: %s)", model, strings.Join(SupportedModels, ", "))
}

// EnsureDirs creates directories if needed
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// IsValidYouTubeID checks if a string looks like a valid YouTube video ID
func IsValidYouTubeID(id string) bool {
	return youtubeIDPattern.MatchString(id)
}

// IsLikelyCommand checks if a string looks like it might be a mistyped command
func IsLikelyCommand(arg string) bool {
	return len(arg) <= 10 && !IsValidYouTubeID(arg)
}

// ValidateOpenAIAPIKey checks if the OpenAI API key is set and returns a standardized error if not
func ValidateOpenAIAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("OpenAI API key is required - set it in config.toml or OPENAI_API_KEY environment variable")
	}
	return nil
}
