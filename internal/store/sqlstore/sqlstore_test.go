package sqlstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtzll/vidagent/internal/store"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	opts = append([]Option{WithPublicURL("http://blobs.test/")}, opts...)
	s, err := Open(context.Background(), DriverSQLite, dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: dialects[DriverPostgres]}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s = &Store{dialect: dialects[DriverSQLite]}
	assert.Equal(t, "WHERE x = ?", s.rebind("WHERE x = ?"))
}

func TestMigrateIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "twice.db")
	for range 2 {
		s, err := Open(context.Background(), DriverSQLite, dbPath)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
}

func TestVideos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetVideo(ctx, "user-1", "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, store.ErrNotFound)

	v, err := s.CreateVideo(ctx, "user-1", "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "user-1", v.UserID)

	again, err := s.CreateVideo(ctx, "user-1", "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, v.ID, again.ID, "create is idempotent per user and video")

	other, err := s.CreateVideo(ctx, "user-2", "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.NotEqual(t, v.ID, other.ID)

	require.NoError(t, s.TouchVideo(ctx, "user-1", "dQw4w9WgXcQ"))
	assert.ErrorIs(t, s.TouchVideo(ctx, "user-3", "dQw4w9WgXcQ"), store.ErrNotFound)
}

func TestTranscripts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTranscript(ctx, "u", "vid")
	assert.ErrorIs(t, err, store.ErrNotFound)

	segs := []store.Segment{{Text: "hello", Timestamp: "0:00"}, {Text: "world", Timestamp: "0:04"}}
	require.NoError(t, s.SaveTranscript(ctx, store.Transcript{VideoID: "vid", UserID: "u", Segments: segs}))

	got, err := s.GetTranscript(ctx, "u", "vid")
	require.NoError(t, err)
	assert.Equal(t, segs, got.Segments)

	replaced := []store.Segment{{Text: "only", Timestamp: "0:01"}}
	require.NoError(t, s.SaveTranscript(ctx, store.Transcript{VideoID: "vid", UserID: "u", Segments: replaced}))
	got, err = s.GetTranscript(ctx, "u", "vid")
	require.NoError(t, err)
	assert.Equal(t, replaced, got.Segments)
}

func TestUploadSlots(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	uploadURL, err := s.GenerateUploadURL(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uploadURL, "http://blobs.test/api/storage/upload/"), uploadURL)
	token := strings.TrimPrefix(uploadURL, "http://blobs.test/api/storage/upload/")

	_, err = s.PutBlob(ctx, "bogus", "image/png", []byte("x"))
	assert.ErrorIs(t, err, store.ErrInvalidUploadToken)

	id1, err := s.PutBlob(ctx, token, "image/png", []byte("first"))
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	id2, err := s.PutBlob(ctx, token, "image/png", []byte("second"))
	require.NoError(t, err, "slot is reusable within its TTL")
	assert.NotEqual(t, id1, id2)

	now = now.Add(30 * time.Minute)
	_, err = s.PutBlob(ctx, token, "image/png", []byte("late"))
	assert.ErrorIs(t, err, store.ErrInvalidUploadToken)

	blob, err := s.GetBlob(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "image/png", blob.ContentType)
	assert.Equal(t, []byte("first"), blob.Data)

	_, err = s.GetBlob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreImage(ctx, store.Image{StorageID: "missing", VideoID: "vid", UserID: "u"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	uploadURL, err := s.GenerateUploadURL(ctx)
	require.NoError(t, err)
	token := uploadURL[strings.LastIndex(uploadURL, "/")+1:]
	storageID, err := s.PutBlob(ctx, token, "image/png", []byte("png"))
	require.NoError(t, err)

	img, err := s.StoreImage(ctx, store.Image{StorageID: storageID, VideoID: "vid", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "http://blobs.test/api/storage/"+storageID, img.URL)

	images, err := s.ListImages(ctx, "u", "vid")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, storageID, images[0].StorageID)
	assert.Equal(t, img.URL, images[0].URL)

	none, err := s.ListImages(ctx, "someone-else", "vid")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTitlesAndRatings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title, err := s.SaveTitle(ctx, store.Title{
		VideoID: "vid",
		UserID:  "u",
		Title:   "How Go schedules goroutines",
		Metrics: store.TitleMetrics{ClickbaitScore: 1, SEOScore: 1, ReadabilityScore: 1},
	})
	require.NoError(t, err)

	_, err = s.RateTitle(ctx, store.Rating{TitleID: "missing", UserID: "u", Rating: 5})
	assert.ErrorIs(t, err, store.ErrNotFound)

	sum, err := s.RateTitle(ctx, store.Rating{TitleID: title.ID, UserID: "u", Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, store.RatingSummary{Average: 4, Count: 1}, sum)

	sum, err = s.RateTitle(ctx, store.Rating{TitleID: title.ID, UserID: "v", Rating: 2})
	require.NoError(t, err)
	assert.Equal(t, store.RatingSummary{Average: 3, Count: 2}, sum)

	// re-rating replaces the user's previous score
	sum, err = s.RateTitle(ctx, store.Rating{TitleID: title.ID, UserID: "u", Rating: 5, Feedback: "better"})
	require.NoError(t, err)
	assert.Equal(t, store.RatingSummary{Average: 3.5, Count: 2}, sum)

	titles, err := s.ListTitles(ctx, "u", "vid")
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, "How Go schedules goroutines", titles[0].Title)
	assert.InDelta(t, 3.5, titles[0].AvgRating, 0.001)
	assert.Equal(t, 2, titles[0].TotalRatings)
	assert.Equal(t, 1.0, titles[0].Metrics.SEOScore)
}
