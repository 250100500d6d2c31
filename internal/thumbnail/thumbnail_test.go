package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtzll/vidagent/internal/entitlements"
	"github.com/rtzll/vidagent/internal/resilience"
	"github.com/rtzll/vidagent/internal/store"
)

type fakeImages struct {
	url   string
	calls atomic.Int32
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	return f.url, nil
}

type fakeStorage struct {
	uploadURL string

	mu         sync.Mutex
	slotCalls  int
	storeCalls int
	listCalls  int
	storeFails int
	images     []store.Image
}

func (f *fakeStorage) GenerateUploadURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotCalls++
	return f.uploadURL, nil
}

func (f *fakeStorage) StoreImage(ctx context.Context, img store.Image) (*store.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeCalls++
	if f.storeFails < 0 || f.storeCalls <= f.storeFails {
		return nil, errors.New("database unavailable")
	}
	img.ID = "img-" + img.StorageID
	f.images = append(f.images, img)
	return &img, nil
}

func (f *fakeStorage) ListImages(ctx context.Context, userID, videoID string) ([]store.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []store.Image
	for _, img := range f.images {
		if img.UserID == userID && img.VideoID == videoID {
			out = append(out, img)
		}
	}
	return out, nil
}

type fakeTracker struct {
	mu     sync.Mutex
	events []entitlements.Event
}

func (f *fakeTracker) Track(ctx context.Context, ev entitlements.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

// imageHost serves the generated image and the upload slot.
type imageHost struct {
	downloadFails int32
	downloads     atomic.Int32
	uploads       atomic.Int32
	uploaded      atomic.Value
}

func (h *imageHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /image.png", func(w http.ResponseWriter, r *http.Request) {
		if h.downloads.Add(1) <= h.downloadFails {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG fake"))
	})
	mux.HandleFunc("POST /upload/slot-1", func(w http.ResponseWriter, r *http.Request) {
		h.uploads.Add(1)
		body, _ := io.ReadAll(r.Body)
		h.uploaded.Store(r.Header.Get("Content-Type") + ":" + string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"storageId":"st-1"}`)
	})
	return mux
}

type harness struct {
	gen     *Generator
	images  *fakeImages
	storage *fakeStorage
	tracker *fakeTracker
	host    *imageHost
	cache   *resilience.Cache
	steps   []Step
}

func newHarness(t *testing.T, downloadFails int32, storeFails int) *harness {
	t.Helper()
	h := &harness{host: &imageHost{downloadFails: downloadFails}, tracker: &fakeTracker{}}
	srv := httptest.NewServer(h.host.handler())
	t.Cleanup(srv.Close)

	h.images = &fakeImages{url: srv.URL + "/image.png"}
	h.storage = &fakeStorage{uploadURL: srv.URL + "/upload/slot-1", storeFails: storeFails}
	h.cache = resilience.NewCache()
	runner := resilience.NewRunner(h.cache, resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
	h.gen = New(h.images, h.storage, h.tracker, runner,
		WithHTTPClient(srv.Client()),
		WithObserver(func(s Step) { h.steps = append(h.steps, s) }),
	)
	return h
}

func TestGenerateRetriesDownloadAndCachesEveryStep(t *testing.T) {
	h := newHarness(t, 2, 0)

	res := h.gen.Generate(context.Background(), "user-1", "vid-1", "a cat explaining goroutines")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "st-1", res.Images[0].StorageID)
	assert.Equal(t, "vid-1", res.Images[0].VideoID)
	assert.Equal(t, "user-1", res.Images[0].UserID)

	assert.Equal(t, int32(3), h.host.downloads.Load(), "two failures then one success")
	assert.Equal(t, int32(1), h.host.uploads.Load())
	assert.Equal(t, "image/png:\x89PNG fake", h.host.uploaded.Load())
	assert.Equal(t, Steps, h.steps)

	imageURL := h.images.url
	for _, key := range []string{
		"user-1-dalle-vid-1-a cat explaining goroutines",
		"user-1-upload-url-vid-1",
		"user-1-download-vid-1-" + imageURL,
		"user-1-upload-vid-1-" + imageURL,
		"user-1-store-vid-1-st-1",
		"user-1-get-images-vid-1-st-1",
	} {
		assert.True(t, h.cache.Has(key), "missing cache entry %q", key)
	}
	assert.Equal(t, 6, h.cache.Len())

	h.tracker.mu.Lock()
	require.Len(t, h.tracker.events, 1)
	assert.Equal(t, entitlements.ImageGeneration, h.tracker.events[0].Feature)
	h.tracker.mu.Unlock()
}

func TestGenerateSecondRunIsServedFromCache(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()

	first := h.gen.Generate(ctx, "u", "v", "prompt")
	require.True(t, first.Success, first.Error)
	second := h.gen.Generate(ctx, "u", "v", "prompt")
	require.True(t, second.Success, second.Error)

	assert.Equal(t, int32(1), h.images.calls.Load())
	assert.Equal(t, int32(1), h.host.downloads.Load())
	assert.Equal(t, int32(1), h.host.uploads.Load())
	assert.Equal(t, 1, h.storage.storeCalls)
	assert.Equal(t, first.Images, second.Images)
}

func TestGeneratePersistFailureAbortsChain(t *testing.T) {
	h := newHarness(t, 0, -1)

	res := h.gen.Generate(context.Background(), "u", "v", "prompt")
	assert.False(t, res.Success)
	assert.Nil(t, res.Images)
	assert.Equal(t, "failed to store image", res.Error)
	assert.NotContains(t, res.Error, "database unavailable")
	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, StepPersist, stepErr.Step)
	assert.ErrorContains(t, res.Err, "saving image reference: database unavailable")

	assert.Equal(t, resilience.DefaultPolicy.MaxRetries+1, h.storage.storeCalls)
	assert.Zero(t, h.storage.listCalls, "no images are read after a failed persist")
	assert.Equal(t, int32(1), h.host.uploads.Load(), "earlier side effects are not rolled back")
	assert.NotContains(t, h.steps, StepList)
	assert.Empty(t, h.tracker.events)
}

func TestGenerateRejectsInputBeforeRemoteCalls(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		videoID string
		prompt  string
		wantErr error
	}{
		{"no user", "", "v", "p", ErrNoUser},
		{"no prompt", "u", "v", "", ErrNoPrompt},
		{"no video", "u", "", "p", ErrNoVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0, 0)
			res := h.gen.Generate(context.Background(), tt.userID, tt.videoID, tt.prompt)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantErr.Error(), res.Error)
			assert.Zero(t, h.images.calls.Load())
			assert.Zero(t, h.storage.slotCalls)
			assert.Empty(t, h.steps)
		})
	}
}

func TestGenerateDownloadTimeout(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer blocked.Close()

	storage := &fakeStorage{uploadURL: blocked.URL + "/upload"}
	runner := resilience.NewRunner(resilience.NewCache(),
		resilience.WithPolicy(resilience.Policy{MaxRetries: 1}),
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	gen := New(&fakeImages{url: blocked.URL + "/slow.png"}, storage, nil, runner,
		WithHTTPClient(blocked.Client()),
		WithFetchTimeout(50*time.Millisecond),
	)

	res := gen.Generate(context.Background(), "u", "v", "p")
	assert.False(t, res.Success)
	assert.Equal(t, "failed to download generated image", res.Error)
	assert.NotContains(t, res.Error, blocked.URL)
	assert.ErrorIs(t, res.Err, resilience.ErrTimeout)
	assert.True(t, strings.HasPrefix(res.Err.Error(), "downloading image:"), res.Err.Error())
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"input error", ErrNoPrompt, ErrNoPrompt.Error()},
		{"generate", &StepError{StepGenerate, errors.New("quota exceeded for org-123")}, "failed to generate image"},
		{"upload url", &StepError{StepUploadURL, errors.New("dial tcp 10.0.0.3:5432")}, "failed to store image"},
		{"list", &StepError{StepList, errors.New("pq: relation missing")}, "failed to load images"},
		{"wrapped", fmt.Errorf("outer: %w", &StepError{StepDownload, errors.New("https://cdn/x.png?sig=abc")}), "failed to download generated image"},
		{"unknown step", &StepError{Step("resize"), errors.New("boom")}, "failed to generate thumbnail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestUploadSlotNotReusedPastItsLifetime(t *testing.T) {
	h := newHarness(t, 0, 0)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cache := resilience.NewCache(resilience.WithTTL(3*time.Hour), resilience.WithClock(func() time.Time { return now }))
	runner := resilience.NewRunner(cache, resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
	gen := New(h.images, h.storage, h.tracker, runner, WithHTTPClient(http.DefaultClient))
	ctx := context.Background()

	require.True(t, gen.Generate(ctx, "u", "v", "first").Success)
	now = now.Add(30 * time.Minute)
	require.True(t, gen.Generate(ctx, "u", "v", "second").Success)
	assert.Equal(t, 1, h.storage.slotCalls, "slot reused while it still accepts uploads")

	now = now.Add(time.Hour)
	require.True(t, gen.Generate(ctx, "u", "v", "third").Success)
	assert.Equal(t, 2, h.storage.slotCalls, "a slot older than its lifetime is replaced")
	assert.Equal(t, int32(3), h.images.calls.Load())
}
