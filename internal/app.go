package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rtzll/vidagent/internal/entitlements"
	"github.com/rtzll/vidagent/internal/resilience"
	"github.com/rtzll/vidagent/internal/store"
	"github.com/rtzll/vidagent/internal/thumbnail"
)

var (
	// ErrNoUser is returned when an operation needs a user identity and has none
	ErrNoUser = thumbnail.ErrNoUser
	// ErrNoStore is returned by operations that persist data when the app runs without a store
	ErrNoStore = errors.New("no document store configured")
)

// App holds the application state and dependencies
type App struct {
	config        *Config
	source        VideoSource
	ai            *AI
	promptManager *PromptManager
	store         store.Store
	entitlements  entitlements.Checker
	tracker       entitlements.Tracker
	runner        *resilience.Runner
	thumbnails    *thumbnail.Generator
	ui            UIManager
	logger        *slog.Logger
	now           func() time.Time
}

// NewApp initializes the application
func NewApp(config *Config, options ...AppOption) *App {
	cmdRunner := &DefaultCommandRunner{}
	audio := NewAudio(cmdRunner, config.TempDir, config.Verbose)

	app := &App{
		config:        config,
		source:        NewYouTube(config.CacheDir, config.Verbose),
		ai:            NewAIWithKey(config.OpenAIAPIKey, audio, config.ChatModel, WhisperLimit, config.SummaryTimeout, config.Verbose),
		promptManager: NewPromptManager(config.ConfigDir, config.Prompt),
		entitlements:  entitlements.Unlimited{},
		ui:            NewUIManager(config.Verbose, config.Quiet),
		logger:        slog.Default(),
		now:           time.Now,
	}

	for _, option := range options {
		option(app)
	}

	if app.tracker == nil {
		if tr, ok := app.entitlements.(entitlements.Tracker); ok {
			app.tracker = tr
		} else {
			app.tracker = entitlements.Unlimited{}
		}
	}
	if app.runner == nil {
		app.runner = resilience.NewRunner(
			resilience.NewCache(resilience.WithTTL(config.CacheTTL)),
			resilience.WithPolicy(config.RetryPolicy()),
			resilience.WithLogger(app.logger),
		)
	}
	app.ai.SetRunner(app.runner)
	if app.thumbnails == nil && app.store != nil {
		app.thumbnails = thumbnail.New(app.ai, app.store, app.tracker, app.runner,
			thumbnail.WithLogger(app.logger),
			thumbnail.WithFetchTimeout(config.FetchTimeout),
			thumbnail.WithImageTimeout(config.ImageTimeout),
		)
	}

	return app
}

// AppOption customizes App creation
type AppOption func(*App)

// WithVideoSource replaces the yt-dlp backed source
func WithVideoSource(source VideoSource) AppOption {
	return func(a *App) {
		a.source = source
	}
}

// WithAI sets a custom AI processor
func WithAI(ai *AI) AppOption {
	return func(a *App) {
		a.ai = ai
	}
}

// WithStore sets the document store
func WithStore(s store.Store) AppOption {
	return func(a *App) {
		a.store = s
	}
}

// WithEntitlements sets the usage checker. It also records usage unless
// WithTracker is given.
func WithEntitlements(c entitlements.Checker) AppOption {
	return func(a *App) {
		a.entitlements = c
	}
}

// WithTracker sets where usage events are sent, usually an entitlements.Queue
func WithTracker(t entitlements.Tracker) AppOption {
	return func(a *App) {
		a.tracker = t
	}
}

// WithRunner shares a resilience runner (and its cache) with the app
func WithRunner(r *resilience.Runner) AppOption {
	return func(a *App) {
		a.runner = r
	}
}

// WithThumbnails sets the thumbnail generator
func WithThumbnails(g *thumbnail.Generator) AppOption {
	return func(a *App) {
		a.thumbnails = g
	}
}

func WithUI(ui UIManager) AppOption {
	return func(a *App) {
		a.ui = ui
	}
}

func WithLogger(l *slog.Logger) AppOption {
	return func(a *App) {
		a.logger = l
	}
}

// SetPromptManager sets a new prompt manager
func (app *App) SetPromptManager(pm *PromptManager) {
	app.promptManager = pm
}

// Runner returns the runner used for remote calls
func (app *App) Runner() *resilience.Runner {
	return app.runner
}

// Allowed reports whether the user may use feature now
func (app *App) Allowed(ctx context.Context, userID string, feature entitlements.Feature) error {
	if userID == "" {
		return ErrNoUser
	}
	return app.entitlements.Check(ctx, userID, feature)
}

// Metadata returns yt-dlp metadata for a video, memoized per video
func (app *App) Metadata(ctx context.Context, videoURL string) (*VideoMetadata, error) {
	videoURL, videoID := ParseArg(videoURL)
	return resilience.Do(ctx, app.runner, "metadata-"+videoID, func(ctx context.Context) (*VideoMetadata, error) {
		return app.source.Metadata(ctx, videoURL)
	})
}

// Details returns the display details of a video
func (app *App) Details(ctx context.Context, videoID string) (*VideoDetails, error) {
	metadata, err := app.Metadata(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("fetching video details: %w", err)
	}
	details := NewVideoDetails(metadata, app.now())
	if details.ID == "" {
		_, details.ID = ParseArg(videoID)
	}
	return details, nil
}

// CreateOrGetVideo returns the user's stored video, creating it on first
// analysis. Only a first analysis is metered.
func (app *App) CreateOrGetVideo(ctx context.Context, userID, videoID string) (*store.Video, bool, error) {
	if userID == "" {
		return nil, false, ErrNoUser
	}
	if app.store == nil {
		return nil, false, ErrNoStore
	}

	video, err := app.store.GetVideo(ctx, userID, videoID)
	switch {
	case err == nil:
		if err := app.store.TouchVideo(ctx, userID, videoID); err != nil {
			app.logger.Warn("updating last analysed time failed", slog.String("video", videoID), slog.Any("error", err))
		}
		return video, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("looking up video: %w", err)
	}

	if err := app.entitlements.Check(ctx, userID, entitlements.AnalyseVideo); err != nil {
		return nil, false, err
	}

	video, err = app.store.CreateVideo(ctx, userID, videoID)
	if err != nil {
		return nil, false, fmt.Errorf("creating video: %w", err)
	}
	app.logger.Info("video analysed", slog.String("user", userID), slog.String("video", videoID))
	app.track(ctx, entitlements.AnalyseVideo, userID)
	return video, true, nil
}

// Transcript returns the user's stored transcript for a video or fetches the
// captions, falling back to Whisper when allowed. A fetched transcript is
// stored and metered.
func (app *App) Transcript(ctx context.Context, userID, videoURL string, whisperFallback bool) (*TranscriptResult, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	videoURL, videoID := ParseArg(videoURL)

	if app.store != nil {
		existing, err := app.store.GetTranscript(ctx, userID, videoID)
		switch {
		case err == nil:
			app.ui.Verbose("Found stored transcript for %s\n", videoID)
			return &TranscriptResult{VideoID: videoID, Segments: existing.Segments, Cached: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("reading stored transcript: %w", err)
		}
	}

	if err := app.entitlements.Check(ctx, userID, entitlements.Transcription); err != nil {
		return nil, err
	}

	segments, err := app.captions(ctx, videoURL, videoID)
	if err != nil {
		if !whisperFallback {
			return nil, err
		}
		app.logger.Debug("captions unavailable, using whisper", slog.String("video", videoID), slog.Any("error", err))
		text, werr := app.TranscribeWhisper(ctx, videoURL)
		if werr != nil {
			return nil, werr
		}
		segments = TextSegments(text)
	}

	if app.store != nil {
		if err := app.store.SaveTranscript(ctx, store.Transcript{VideoID: videoID, UserID: userID, Segments: segments}); err != nil {
			return nil, fmt.Errorf("saving transcript: %w", err)
		}
	}
	app.track(ctx, entitlements.Transcription, userID)

	return &TranscriptResult{VideoID: videoID, Segments: segments}, nil
}

// captions downloads the video's captions. Videos that report no captions
// fail fast instead of being retried.
func (app *App) captions(ctx context.Context, videoURL, videoID string) ([]store.Segment, error) {
	spinner := app.ui.NewSpinner("Checking caption availability...")
	defer spinner.Finish()

	metadata, err := app.Metadata(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("checking video metadata: %w", err)
	}
	if !metadata.HasCaptions {
		return nil, fmt.Errorf("%w for %s", ErrNoCaptions, videoID)
	}

	spinner.Describe("Fetching YouTube captions...")
	spinner.Advance()
	return resilience.Do(ctx, app.runner, "captions-"+videoID, func(ctx context.Context) ([]store.Segment, error) {
		return app.source.Captions(ctx, videoURL)
	})
}

// TranscribeWhisper downloads the audio and transcribes it with Whisper (paid)
func (app *App) TranscribeWhisper(ctx context.Context, videoURL string) (string, error) {
	if app.config.WhisperTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.WhisperTimeout)
		defer cancel()
	}

	spinner := app.ui.NewSpinner("Downloading audio...")
	audioFile, err := app.source.Audio(ctx, videoURL)
	spinner.Finish()
	if err != nil {
		return "", fmt.Errorf("downloading audio: %w", err)
	}

	bar := app.ui.NewProgressBar(100, "Transcribing with OpenAI Whisper")
	defer bar.Finish()
	transcript, err := app.ai.TranscribeWithProgress(ctx, audioFile, bar)
	if err != nil {
		return "", err
	}
	return transcript, nil
}

// GenerateThumbnail creates a thumbnail for the video after checking the
// user's image allowance
func (app *App) GenerateThumbnail(ctx context.Context, userID, videoID, prompt string) thumbnail.Result {
	if app.thumbnails == nil {
		return thumbnail.Result{Error: ErrNoStore.Error()}
	}
	if userID != "" {
		if err := app.entitlements.Check(ctx, userID, entitlements.ImageGeneration); err != nil {
			return thumbnail.Result{Error: err.Error()}
		}
	}
	return app.thumbnails.Generate(ctx, userID, videoID, prompt)
}

// Thumbnails lists the user's stored thumbnails for a video
func (app *App) Thumbnails(ctx context.Context, userID, videoID string) ([]store.Image, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if app.thumbnails == nil {
		return nil, ErrNoStore
	}
	return app.thumbnails.Images(ctx, userID, videoID)
}

// Chat answers the latest user message about a video. The video title and
// transcript are loaded concurrently and given to the model as context.
func (app *App) Chat(ctx context.Context, userID, videoID string, messages []ChatMessage) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}

	chat := ChatContext{VideoID: videoID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		details, err := app.Details(gctx, videoID)
		if err != nil {
			app.logger.Warn("loading video details for chat failed", slog.String("video", videoID), slog.Any("error", err))
			return nil
		}
		chat.Title = details.Title
		return nil
	})
	var transcript *TranscriptResult
	g.Go(func() error {
		t, err := app.Transcript(gctx, userID, videoID, false)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			chat.TranscriptError = err.Error()
			return nil
		}
		transcript = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	if transcript != nil {
		chat.Transcript = transcript.Text()
		chat.Cached = transcript.Cached
	}

	system, err := ChatSystemPrompt(chat)
	if err != nil {
		return "", err
	}
	reply, err := app.ai.Complete(ctx, ChatRequest{
		Model:    app.config.ChatModel,
		Messages: append([]ChatMessage{{Role: RoleSystem, Content: system}}, messages...),
	})
	if err != nil {
		return "", fmt.Errorf("answering chat: %w", err)
	}
	return reply, nil
}

// GenerateSummary creates a markdown summary from a transcript
func (app *App) GenerateSummary(ctx context.Context, videoURL, transcript string) (string, error) {
	if transcript == "" {
		return "", fmt.Errorf("transcript is empty")
	}

	metadata, err := app.Metadata(ctx, videoURL)
	if err != nil {
		app.ui.Verbose("Failed to extract video metadata: %v\n", err)
		metadata = nil
	}

	prompt, err := app.promptManager.CreatePrompt(transcript, metadata)
	if err != nil {
		return "", fmt.Errorf("creating prompt: %w", err)
	}

	summary, err := app.ai.Summary(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	return summary, nil
}

// TranscriptForCLI fetches a transcript as the configured user and asks
// before paying for Whisper unless fallbackWhisper is set
func (app *App) TranscriptForCLI(ctx context.Context, videoURL string, fallbackWhisper bool) (*TranscriptResult, error) {
	result, err := app.Transcript(ctx, app.config.UserID, videoURL, fallbackWhisper)
	if err == nil || fallbackWhisper || !errors.Is(err, ErrNoCaptions) {
		return result, err
	}
	if !AskUser("No captions available. Do you want to transcribe it using OpenAI's whisper ($$$)?") {
		return nil, fmt.Errorf("transcription declined by user")
	}
	return app.Transcript(ctx, app.config.UserID, videoURL, true)
}

// SummarizeYouTube performs the complete workflow: get transcript -> summarize -> render
func (app *App) SummarizeYouTube(ctx context.Context, videoURL string, fallbackWhisper bool) error {
	result, err := app.TranscriptForCLI(ctx, videoURL, fallbackWhisper)
	if err != nil {
		return err
	}

	spinner := app.ui.NewSpinner("Summarizing...")
	summary, err := app.GenerateSummary(ctx, videoURL, result.Text())
	spinner.Finish()
	if err != nil {
		return err
	}

	rendered, err := RenderMarkdown(summary)
	if err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	fmt.Println(rendered)
	return nil
}
