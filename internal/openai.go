package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/rtzll/vidagent/internal/resilience"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest describes a chat completion. Zero Temperature and MaxTokens
// leave the API defaults in place.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int64
}

// OpenAIClientInterface defines the interface for OpenAI client operations
type OpenAIClientInterface interface {
	CreateTranscription(ctx context.Context, file *os.File) (string, error)
	CreateChatCompletion(ctx context.Context, req ChatRequest) (string, error)
	CreateImage(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient wraps the official OpenAI Go SDK
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI client. The SDK's own retries are
// disabled; callers retry through resilience.Runner.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)}
}

// CreateTranscription implements the transcription method
func (c *OpenAIClient) CreateTranscription(ctx context.Context, file *os.File) (string, error) {
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  file,
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CreateChatCompletion implements the chat completion method
func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	if err := ValidateModel(req.Model); err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// CreateImage generates one 1792x1024 HD image with DALL-E 3 and returns its URL.
func (c *OpenAIClient) CreateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModelDallE3,
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1792x1024,
		Quality:        openai.ImageGenerateParamsQualityHD,
		Style:          openai.ImageGenerateParamsStyleNatural,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("failed to generate image")
	}
	return resp.Data[0].URL, nil
}

// AI handles OpenAI API interactions for transcription, chat and images
type AI struct {
	client       OpenAIClientInterface
	audio        *Audio
	model        string
	whisperLimit int64
	timeout      time.Duration
	verbose      bool
	runner       *resilience.Runner

	apiKey     string
	clientOnce sync.Once
	clientErr  error
}

// NewAI creates a new AI processor
func NewAI(client OpenAIClientInterface, audio *Audio, model string, whisperLimit int64, timeout time.Duration, verbose bool) *AI {
	return &AI{
		client:       client,
		audio:        audio,
		model:        model,
		whisperLimit: whisperLimit,
		timeout:      timeout,
		verbose:      verbose,
	}
}

// NewAIWithKey creates a new AI processor with lazy client initialization
func NewAIWithKey(apiKey string, audio *Audio, model string, whisperLimit int64, timeout time.Duration, verbose bool) *AI {
	ai := NewAI(nil, audio, model, whisperLimit, timeout, verbose)
	ai.apiKey = apiKey
	return ai
}

// SetRunner makes chat completions retry through r.
func (ai *AI) SetRunner(r *resilience.Runner) {
	ai.runner = r
}

// Model returns the default chat model.
func (ai *AI) Model() string {
	return ai.model
}

// ensureClient initializes the OpenAI client if needed
func (ai *AI) ensureClient() error {
	ai.clientOnce.Do(func() {
		if ai.client != nil {
			return
		}
		if err := ValidateOpenAIAPIKey(ai.apiKey); err != nil {
			ai.clientErr = err
			return
		}
		ai.client = NewOpenAIClient(ai.apiKey)
	})
	return ai.clientErr
}

// Transcribe transcribes audio using OpenAI's Whisper API, splitting files
// above the upload limit into chunks
func (ai *AI) Transcribe(ctx context.Context, audioFile string) (string, error) {
	return ai.TranscribeWithProgress(ctx, audioFile, nil)
}

// TranscribeWithProgress is Transcribe reporting one step per chunk to bar.
func (ai *AI) TranscribeWithProgress(ctx context.Context, audioFile string, bar ProgressBar) (string, error) {
	if err := ai.ensureClient(); err != nil {
		return "", err
	}

	if ai.verbose {
		fmt.Printf("Transcribing audio file: %s\n", audioFile)
	}

	info, err := os.Stat(audioFile)
	if err != nil {
		return "", fmt.Errorf("getting audio file info: %w", err)
	}

	numChunks := ChunkCount(info.Size(), ai.whisperLimit)

	chunks := []string{audioFile}
	if numChunks > 1 {
		chunks, err = ai.audio.Split(ctx, audioFile, numChunks)
		if err != nil {
			return "", fmt.Errorf("splitting audio: %w", err)
		}
		defer cleanupFiles(append(chunks, audioFile)...)
	}

	transcript, err := ai.processAudioChunks(ctx, chunks, bar)
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	return transcript, nil
}

// processAudioChunks transcribes audio chunks sequentially
// NOTE: tried to do it concurrently but one chunk returned broken transcript
// not use if issue with the invocation of the API or just a glitch
// trying it sequentially worked
func (ai *AI) processAudioChunks(ctx context.Context, chunks []string, bar ProgressBar) (string, error) {
	numChunks := len(chunks)

	var sb strings.Builder
	for i, chunkPath := range chunks {
		if bar != nil {
			bar.Describe(fmt.Sprintf("Transcribing chunk %d/%d", i+1, numChunks))
		}

		text, err := ai.transcribeChunk(ctx, chunkPath)
		if err != nil {
			return "", fmt.Errorf("transcribing chunk %d: %w", i+1, err)
		}

		sb.WriteString(text)
		if i < numChunks-1 {
			sb.WriteString("\n")
		}

		if bar != nil {
			bar.Set((i + 1) * 100 / numChunks)
		}
		if ai.verbose {
			fmt.Printf("Transcribed chunk %d/%d\n", i+1, numChunks)
		}
	}

	return sb.String(), nil
}

func (ai *AI) transcribeChunk(ctx context.Context, chunkPath string) (string, error) {
	file, err := os.Open(chunkPath)
	if err != nil {
		return "", fmt.Errorf("opening chunk %s: %w", chunkPath, err)
	}
	defer file.Close()
	return ai.client.CreateTranscription(ctx, file)
}

// Summary creates an AI summary using a prepared prompt
func (ai *AI) Summary(ctx context.Context, prompt string) (string, error) {
	return ai.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: prompt}},
	})
}

// Complete runs a chat completion with the default model unless req names one.
// Failed calls are retried when a runner is set; results are never cached.
func (ai *AI) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if err := ai.ensureClient(); err != nil {
		return "", err
	}
	if req.Model == "" {
		req.Model = ai.model
	}

	call := func(ctx context.Context) (string, error) {
		if ai.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, ai.timeout)
			defer cancel()
		}
		return ai.client.CreateChatCompletion(ctx, req)
	}

	var (
		content string
		err     error
	)
	if ai.runner != nil {
		content, err = resilience.Do(ctx, ai.runner, "", call)
	} else {
		content, err = call(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	return content, nil
}

// GenerateImage returns the URL of an image generated from prompt.
// It makes a single attempt; the thumbnail pipeline owns retries.
func (ai *AI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if err := ai.ensureClient(); err != nil {
		return "", err
	}
	return ai.client.CreateImage(ctx, prompt)
}
