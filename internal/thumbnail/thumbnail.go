// Package thumbnail generates a thumbnail image for a video and stores it.
//
// Generation is a chain of six remote calls: create the image, reserve an
// upload slot, download the image, upload it, record the reference and
// re-read the video's images. Each call runs through a resilience.Runner so
// it is retried on failure and memoized on success. A failed step aborts the
// chain; earlier side effects are left in place.
package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rtzll/vidagent/internal/entitlements"
	"github.com/rtzll/vidagent/internal/resilience"
	"github.com/rtzll/vidagent/internal/store"
)

// DefaultImageTimeout bounds a single image generation attempt.
const DefaultImageTimeout = 60 * time.Second

// uploadSlotReuse is how long a reserved upload slot is handed out again.
// It ends before the slot expires so the upload that follows still fits.
const uploadSlotReuse = store.UploadSlotTTL - 10*time.Minute

var (
	ErrNoUser   = errors.New("user not found")
	ErrNoPrompt = errors.New("failed to generate image prompt")
	ErrNoVideo  = errors.New("video id is required")
)

// ImageGenerator creates an image from a prompt and returns its temporary URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Storage is the part of the document store the pipeline writes to.
type Storage interface {
	GenerateUploadURL(ctx context.Context) (string, error)
	StoreImage(ctx context.Context, img store.Image) (*store.Image, error)
	ListImages(ctx context.Context, userID, videoID string) ([]store.Image, error)
}

// Step names a stage of the chain.
type Step string

const (
	StepGenerate  Step = "generate"
	StepUploadURL Step = "upload-url"
	StepDownload  Step = "download"
	StepUpload    Step = "upload"
	StepPersist   Step = "persist"
	StepList      Step = "list"
)

// Steps lists the stages in execution order.
var Steps = []Step{StepGenerate, StepUploadURL, StepDownload, StepUpload, StepPersist, StepList}

// Result is the outcome of Generate. On failure Images is nil and Error holds
// a message safe to show to the user. Err keeps the cause for logs.
type Result struct {
	Success bool          `json:"success"`
	Images  []store.Image `json:"images"`
	Error   string        `json:"error,omitempty"`
	Err     error         `json:"-"`
}

// StepError is a failure of one stage of the chain.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

var stepMessages = map[Step]string{
	StepGenerate:  "failed to generate image",
	StepUploadURL: "failed to store image",
	StepDownload:  "failed to download generated image",
	StepUpload:    "failed to store image",
	StepPersist:   "failed to store image",
	StepList:      "failed to load images",
}

// UserMessage returns the text shown to users for err. Stage failures are
// reduced to the stage; input errors are returned as they are.
func UserMessage(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		if msg, ok := stepMessages[se.Step]; ok {
			return msg
		}
		return "failed to generate thumbnail"
	}
	return err.Error()
}

// Generator runs the thumbnail chain.
type Generator struct {
	images  ImageGenerator
	storage Storage
	tracker entitlements.Tracker
	runner  *resilience.Runner
	client  resilience.Doer
	logger  *slog.Logger

	fetchTimeout time.Duration
	imageTimeout time.Duration
	observer     func(Step)
}

type Option func(*Generator)

// WithHTTPClient sets the client used to download and upload image bytes.
func WithHTTPClient(c resilience.Doer) Option {
	return func(g *Generator) { g.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithFetchTimeout bounds each download and upload request.
func WithFetchTimeout(d time.Duration) Option {
	return func(g *Generator) { g.fetchTimeout = d }
}

// WithImageTimeout bounds each image generation attempt.
func WithImageTimeout(d time.Duration) Option {
	return func(g *Generator) { g.imageTimeout = d }
}

// WithObserver registers a callback invoked before each step starts.
func WithObserver(fn func(Step)) Option {
	return func(g *Generator) { g.observer = fn }
}

// New creates a Generator. tracker receives one image-generation event per
// successful run; pass an entitlements.Queue to keep delivery off the request path.
func New(images ImageGenerator, storage Storage, tracker entitlements.Tracker, runner *resilience.Runner, opts ...Option) *Generator {
	g := &Generator{
		images:       images,
		storage:      storage,
		tracker:      tracker,
		runner:       runner,
		client:       http.DefaultClient,
		logger:       slog.Default(),
		fetchTimeout: resilience.DefaultFetchTimeout,
		imageTimeout: DefaultImageTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tracker == nil {
		g.tracker = entitlements.Unlimited{}
	}
	return g
}

// Generate runs the chain and reports the video's images after the new one
// is stored. It never returns an error; failures are described in Result.
func (g *Generator) Generate(ctx context.Context, userID, videoID, prompt string) Result {
	images, err := g.run(ctx, userID, videoID, prompt)
	if err != nil {
		g.logger.Error("thumbnail generation failed",
			slog.String("user", userID),
			slog.String("video", videoID),
			slog.Any("error", err),
		)
		return Result{Success: false, Error: UserMessage(err), Err: err}
	}
	return Result{Success: true, Images: images}
}

// Images lists a user's stored thumbnails for a video without caching.
func (g *Generator) Images(ctx context.Context, userID, videoID string) ([]store.Image, error) {
	return g.storage.ListImages(ctx, userID, videoID)
}

type download struct {
	Data        []byte
	ContentType string
}

func (g *Generator) run(ctx context.Context, userID, videoID, prompt string) ([]store.Image, error) {
	switch {
	case userID == "":
		return nil, ErrNoUser
	case prompt == "":
		return nil, ErrNoPrompt
	case videoID == "":
		return nil, ErrNoVideo
	}

	// every key is scoped by user
	key := func(parts ...string) string {
		k := userID
		for _, p := range parts {
			k += "-" + p
		}
		return k
	}

	g.observe(StepGenerate)
	imageURL, err := resilience.Do(ctx, g.runner, key("dalle", videoID, prompt), func(ctx context.Context) (string, error) {
		u, err := g.images.GenerateImage(ctx, prompt)
		if err != nil {
			return "", err
		}
		if u == "" {
			return "", errors.New("failed to generate image")
		}
		return u, nil
	}, resilience.WithTimeout(g.imageTimeout))
	if err != nil {
		return nil, &StepError{StepGenerate, fmt.Errorf("generating image: %w", err)}
	}

	g.observe(StepUploadURL)
	postURL, err := resilience.Do(ctx, g.runner, key("upload-url", videoID), g.storage.GenerateUploadURL,
		resilience.WithMaxAge(uploadSlotReuse))
	if err != nil {
		return nil, &StepError{StepUploadURL, fmt.Errorf("getting upload url: %w", err)}
	}

	g.observe(StepDownload)
	img, err := resilience.Do(ctx, g.runner, key("download", videoID, imageURL), func(ctx context.Context) (download, error) {
		return g.download(ctx, imageURL)
	})
	if err != nil {
		return nil, &StepError{StepDownload, fmt.Errorf("downloading image: %w", err)}
	}

	g.observe(StepUpload)
	storageID, err := resilience.Do(ctx, g.runner, key("upload", videoID, imageURL), func(ctx context.Context) (string, error) {
		return g.upload(ctx, postURL, img)
	})
	if err != nil {
		return nil, &StepError{StepUpload, fmt.Errorf("uploading image: %w", err)}
	}

	g.observe(StepPersist)
	_, err = resilience.Do(ctx, g.runner, key("store", videoID, storageID), func(ctx context.Context) (*store.Image, error) {
		return g.storage.StoreImage(ctx, store.Image{StorageID: storageID, VideoID: videoID, UserID: userID})
	})
	if err != nil {
		return nil, &StepError{StepPersist, fmt.Errorf("saving image reference: %w", err)}
	}

	g.observe(StepList)
	// keyed by storageID too: each stored image gets a fresh listing
	images, err := resilience.Do(ctx, g.runner, key("get-images", videoID, storageID), func(ctx context.Context) ([]store.Image, error) {
		return g.storage.ListImages(ctx, userID, videoID)
	})
	if err != nil {
		return nil, &StepError{StepList, fmt.Errorf("reading images: %w", err)}
	}

	if err := g.tracker.Track(ctx, entitlements.Event{
		Feature: entitlements.ImageGeneration,
		UserID:  userID,
		At:      time.Now(),
	}); err != nil {
		g.logger.Warn("tracking image generation failed", slog.String("user", userID), slog.Any("error", err))
	}

	return images, nil
}

func (g *Generator) observe(s Step) {
	g.logger.Debug("thumbnail step", slog.String("step", string(s)))
	if g.observer != nil {
		g.observer(s)
	}
}

func (g *Generator) download(ctx context.Context, imageURL string) (download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return download{}, err
	}
	res, err := resilience.FetchWithTimeout(ctx, g.client, req, g.fetchTimeout)
	if err != nil {
		return download{}, err
	}
	return download{Data: res.Body, ContentType: res.ContentType}, nil
}

type uploadResponse struct {
	StorageID string `json:"storageId"`
}

func (g *Generator) upload(ctx context.Context, postURL string, img download) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(img.Data))
	if err != nil {
		return "", err
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	req.Header.Set("Content-Type", contentType)

	res, err := resilience.FetchWithTimeout(ctx, g.client, req, g.fetchTimeout)
	if err != nil {
		return "", err
	}
	var body uploadResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if body.StorageID == "" {
		return "", errors.New("upload response has no storage id")
	}
	return body.StorageID, nil
}
