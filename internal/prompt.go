package internal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// PromptData for template injection
type PromptData struct {
	Title       string
	Channel     string
	Description string
	Transcript  string
}

// PromptManager handles loading and processing summary prompt templates
type PromptManager struct {
	promptFile   string
	promptString string
	configDir    string
}

// NewPromptManager creates a new prompt manager
func NewPromptManager(configDir, promptSetting string) *PromptManager {
	pm := &PromptManager{configDir: configDir}

	if promptSetting != "" {
		if IsLikelyFilePath(promptSetting) && FileExists(promptSetting) {
			pm.promptFile = promptSetting
		} else {
			pm.promptString = promptSetting
		}
	}

	return pm
}

// CreatePrompt builds a summary prompt from a transcript and metadata
func (pm *PromptManager) CreatePrompt(transcript string, metadata *VideoMetadata) (string, error) {
	tmplContent := pm.promptString
	if tmplContent == "" {
		promptFile := pm.promptFile
		if promptFile == "" {
			promptFile = filepath.Join(pm.configDir, "prompt.txt")
		}

		content, err := os.ReadFile(promptFile)
		if os.IsNotExist(err) && pm.promptFile == "" {
			content, err = defaultFS.ReadFile("prompt.txt")
		}
		if err != nil {
			return "", fmt.Errorf("reading prompt template: %w", err)
		}
		tmplContent = string(content)
	}

	data := PromptData{Transcript: transcript}
	if metadata != nil {
		data.Title = metadata.Title
		data.Channel = metadata.Channel
		data.Description = metadata.Description
	}
	return executeTemplate("prompt", tmplContent, data)
}

func executeTemplate(name, content string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(content)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", name, err)
	}
	return buf.String(), nil
}

// IsLikelyFilePath uses heuristics to determine if a string is likely a file path
func IsLikelyFilePath(s string) bool {
	if strings.Contains(s, "/") || strings.Contains(s, "\\") {
		return true
	}

	if strings.Contains(s, ".txt") || strings.Contains(s, ".md") ||
		strings.Contains(s, ".template") || strings.Contains(s, ".tmpl") {
		return true
	}

	if len(s) > 200 {
		return false
	}

	return !strings.Contains(s, " ") && !strings.Contains(s, "\n")
}

const titleSystemPrompt = "you are a helpful youtube video creator assistant that creates high quality SEO friendly concise video title"

const titleUserPrompt = `Please provide ONE concise youtube title (and nothing else) for this video. focus on the main points and key takeaways, it should be SEO friendly and 100 characters or less:

{{.Summary}}

{{.Considerations}}`

// TitlePrompt builds the user message for title generation
func TitlePrompt(summary, considerations string) (string, error) {
	return executeTemplate("title", titleUserPrompt, struct {
		Summary        string
		Considerations string
	}{summary, considerations})
}

const chatSystemPrompt = `Your name is Mr. Jere. You are an AI Agent ready to accept questions from the user about ONE specific video. The video ID in question is {{.VideoID}} but you'll refer to this as {{.Title}}. Use emojis to make the conversation more engaging.
If an error occurs, explain it to the user and ask them to try again later. If the error suggests the user upgrade, explain that they must upgrade to use the feature and tell them to go to 'Manage Plan' and upgrade.
{{- if .Cached}}
The transcript below was saved in the database when the user previously transcribed this video, so no token was spent on it. Tell the user this, using the word database rather than cache.
{{- end}}
{{- if .TranscriptError}}
The transcript could not be loaded: {{.TranscriptError}}
{{- else}}

Transcript:
{{.Transcript}}
{{- end}}
Format answers for Notion.`

// ChatContext is what the chat agent knows about the video
type ChatContext struct {
	VideoID         string
	Title           string
	Transcript      string
	Cached          bool
	TranscriptError string
}

// ChatSystemPrompt builds the agent persona prompt for a video
func ChatSystemPrompt(c ChatContext) (string, error) {
	if c.Title == "" {
		c.Title = "selected video"
	}
	return executeTemplate("chat", chatSystemPrompt, c)
}

const thumbnailPrompt = `Create a YouTube thumbnail image (16:9, no text) that captures the video "{{.Title}}".{{if .Summary}} The video is about: {{.Summary}}{{end}}`

// ThumbnailPrompt turns a short idea or the video details into an image prompt
func ThumbnailPrompt(title, summary string) (string, error) {
	return executeTemplate("thumbnail", thumbnailPrompt, struct {
		Title   string
		Summary string
	}{title, summary})
}
