package internal

import (
	"strconv"
	"time"

	"github.com/rtzll/vidagent/internal/store"
)

// VideoDetails is the display summary of a video. Counts are strings so
// unavailable statistics can be shown as text.
type VideoDetails struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Thumbnail   string         `json:"thumbnail"`
	PublishedAt string         `json:"publishedAt"`
	Views       string         `json:"views"`
	Likes       string         `json:"likes"`
	Comments    string         `json:"comments"`
	Channel     ChannelDetails `json:"channel"`
}

type ChannelDetails struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Subscribers string `json:"subscribers"`
}

const (
	unknownTitle   = "Unknown title"
	unknownChannel = "Unknown channel"
	notAvailable   = "Not available"
)

// NewVideoDetails maps yt-dlp metadata onto VideoDetails, filling the gaps
// with placeholders. now is used when the upload date is missing.
func NewVideoDetails(m *VideoMetadata, now time.Time) *VideoDetails {
	d := &VideoDetails{
		ID:          m.ID,
		Title:       orDefault(m.Title, unknownTitle),
		Thumbnail:   m.Thumbnail,
		PublishedAt: now.UTC().Format(time.RFC3339),
		Views:       countOr(m.ViewCount, "0"),
		Likes:       countOr(m.LikeCount, notAvailable),
		Comments:    countOr(m.CommentCount, notAvailable),
		Channel: ChannelDetails{
			Title:       orDefault(orDefault(m.Channel, m.Uploader), unknownChannel),
			Subscribers: countOr(m.ChannelFollowerCount, "0"),
		},
	}
	if t, err := time.Parse("20060102", m.UploadDate); err == nil {
		d.PublishedAt = t.Format(time.RFC3339)
	}
	return d
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func countOr(n *int64, def string) string {
	if n == nil {
		return def
	}
	return strconv.FormatInt(*n, 10)
}

// TranscriptResult is a video transcript and where it came from
type TranscriptResult struct {
	VideoID  string          `json:"videoId"`
	Segments []store.Segment `json:"transcript"`
	// Cached is set when the transcript was already stored for the user
	Cached bool `json:"cache"`
}

// Text renders the transcript as plain text
func (r *TranscriptResult) Text() string {
	return JoinSegments(r.Segments)
}
