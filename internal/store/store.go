// Package store defines the document store used to persist analysed videos,
// transcripts, generated titles and thumbnails.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidUploadToken is returned for unknown or expired upload slots.
	ErrInvalidUploadToken = errors.New("invalid or expired upload token")
)

// UploadSlotTTL is how long an upload URL accepts writes.
const UploadSlotTTL = time.Hour

type Video struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"videoId"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAnalyzed time.Time `json:"lastAnalyzed"`
}

// Segment is one caption line with its position in the video ("mm:ss").
type Segment struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type Transcript struct {
	VideoID   string    `json:"videoId"`
	UserID    string    `json:"userId"`
	Segments  []Segment `json:"transcript"`
	CreatedAt time.Time `json:"createdAt"`
}

// Blob is an uploaded file.
type Blob struct {
	ID          string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Image links an uploaded blob to the video and user it was generated for.
type Image struct {
	ID        string    `json:"id"`
	StorageID string    `json:"storageId"`
	VideoID   string    `json:"videoId"`
	UserID    string    `json:"userId"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// TitleMetrics are heuristic quality scores in [0, 1].
type TitleMetrics struct {
	ClickbaitScore   float64 `json:"clickbaitScore"`
	SEOScore         float64 `json:"seoScore"`
	ReadabilityScore float64 `json:"readabilityScore"`
}

type Title struct {
	ID           string       `json:"id"`
	VideoID      string       `json:"videoId"`
	UserID       string       `json:"userId"`
	Title        string       `json:"title"`
	Metrics      TitleMetrics `json:"metrics"`
	AvgRating    float64      `json:"avgRating"`
	TotalRatings int          `json:"totalRatings"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Rating is a user's 1-5 score for a generated title.
type Rating struct {
	TitleID  string `json:"titleId"`
	UserID   string `json:"userId"`
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

// RatingSummary aggregates all ratings of a title.
type RatingSummary struct {
	Average float64 `json:"averageRating"`
	Count   int     `json:"totalRatings"`
}

// Store is the document store contract.
type Store interface {
	GetVideo(ctx context.Context, userID, videoID string) (*Video, error)
	CreateVideo(ctx context.Context, userID, videoID string) (*Video, error)
	TouchVideo(ctx context.Context, userID, videoID string) error

	SaveTranscript(ctx context.Context, t Transcript) error
	GetTranscript(ctx context.Context, userID, videoID string) (*Transcript, error)

	// GenerateUploadURL reserves an upload slot and returns the URL that
	// accepts a single POST of the file body.
	GenerateUploadURL(ctx context.Context) (string, error)
	PutBlob(ctx context.Context, token, contentType string, data []byte) (string, error)
	GetBlob(ctx context.Context, storageID string) (*Blob, error)

	StoreImage(ctx context.Context, img Image) (*Image, error)
	ListImages(ctx context.Context, userID, videoID string) ([]Image, error)

	SaveTitle(ctx context.Context, t Title) (*Title, error)
	ListTitles(ctx context.Context, userID, videoID string) ([]Title, error)
	RateTitle(ctx context.Context, r Rating) (RatingSummary, error)

	Close() error
}
