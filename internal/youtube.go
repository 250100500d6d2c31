package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lrstanley/go-ytdlp"

	"github.com/rtzll/vidagent/internal/store"
)

// ErrNoCaptions is returned when a video has neither manual nor automatic captions
var ErrNoCaptions = errors.New("no captions available")

// VideoMetadata contains YouTube video information
type VideoMetadata struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	Channel              string         `json:"channel"`
	ChannelID            string         `json:"channel_id"`
	Uploader             string         `json:"uploader"`
	Thumbnail            string         `json:"thumbnail"`
	UploadDate           string         `json:"upload_date"`
	Duration             float64        `json:"duration"`
	ViewCount            *int64         `json:"view_count"`
	LikeCount            *int64         `json:"like_count"`
	CommentCount         *int64         `json:"comment_count"`
	ChannelFollowerCount *int64         `json:"channel_follower_count"`
	Categories           []string       `json:"categories"`
	Tags                 []string       `json:"tags"`
	Chapters             []VideoChapter `json:"chapters"`
	HasCaptions          bool           `json:"-"`
}

// VideoChapter represents a video chapter marker
type VideoChapter struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Title     string  `json:"title"`
}

// VideoSource fetches everything the app needs from a video platform
type VideoSource interface {
	Metadata(ctx context.Context, videoURL string) (*VideoMetadata, error)
	Captions(ctx context.Context, videoURL string) ([]store.Segment, error)
	Audio(ctx context.Context, videoURL string) (string, error)
}

// YouTube implements VideoSource with yt-dlp
type YouTube struct {
	cacheDir string
	verbose  bool

	installOnce sync.Once
	installErr  error
}

var _ VideoSource = (*YouTube)(nil)

// NewYouTube creates a YouTube source writing downloads below cacheDir
func NewYouTube(cacheDir string, verbose bool) *YouTube {
	return &YouTube{cacheDir: cacheDir, verbose: verbose}
}

// ensureInstalled fetches the yt-dlp binary on first use
func (yt *YouTube) ensureInstalled(ctx context.Context) error {
	yt.installOnce.Do(func() {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			yt.installErr = fmt.Errorf("installing yt-dlp: %w", err)
		}
	})
	return yt.installErr
}

// Metadata fetches video details using go-ytdlp
func (yt *YouTube) Metadata(ctx context.Context, videoURL string) (*VideoMetadata, error) {
	if err := yt.ensureInstalled(ctx); err != nil {
		return nil, err
	}
	if yt.verbose {
		fmt.Println("Extracting video metadata...")
	}

	result, err := ytdlp.New().
		DumpSingleJSON().
		NoPlaylist().
		SkipDownload().
		Run(ctx, videoURL)
	if err != nil {
		if yt.verbose && result != nil {
			fmt.Printf("Stderr: %s\n", result.Stderr)
		}
		return nil, fmt.Errorf("extracting video metadata: %w", err)
	}

	return parseMetadata([]byte(result.Stdout))
}

func parseMetadata(data []byte) (*VideoMetadata, error) {
	var metadata VideoMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("parsing video metadata: %w", err)
	}

	var subs struct {
		Subtitles         map[string]json.RawMessage `json:"subtitles"`
		AutomaticCaptions map[string]json.RawMessage `json:"automatic_captions"`
	}
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("parsing subtitle info: %w", err)
	}
	metadata.HasCaptions = len(subs.Subtitles) > 0 || len(subs.AutomaticCaptions) > 0

	return &metadata, nil
}

// Audio downloads the video's audio track as mp3 and returns its path
func (yt *YouTube) Audio(ctx context.Context, videoURL string) (string, error) {
	if err := yt.ensureInstalled(ctx); err != nil {
		return "", err
	}
	videoID, err := getVideoID(videoURL)
	if err != nil {
		return "", fmt.Errorf("extracting video ID: %w", err)
	}
	if err := EnsureDirs(yt.cacheDir); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	if yt.verbose {
		fmt.Println("Downloading audio...")
	}

	result, err := ytdlp.New().
		Format("bestaudio").
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality("10"). // smallest file; speech survives it
		NoPlaylist().
		Output(filepath.Join(yt.cacheDir, "%(id)s.%(ext)s")).
		Run(ctx, videoURL)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = result.Stderr
		}
		return "", fmt.Errorf("yt-dlp failed: %w\nOutput: %s", err, stderr)
	}

	return filepath.Join(yt.cacheDir, videoID+".mp3"), nil
}

// Captions downloads English captions (manual or automatic) and returns them
// as timestamped segments
func (yt *YouTube) Captions(ctx context.Context, videoURL string) ([]store.Segment, error) {
	if err := yt.ensureInstalled(ctx); err != nil {
		return nil, err
	}
	videoID, err := getVideoID(videoURL)
	if err != nil {
		return nil, fmt.Errorf("extracting video ID: %w", err)
	}
	if err := EnsureDirs(yt.cacheDir); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if yt.verbose {
		fmt.Println("Downloading subtitles...")
	}

	result, err := ytdlp.New().
		WriteSubs().
		WriteAutoSubs().
		SubLangs("en").
		ConvertSubs("srt").
		SkipDownload().
		NoPlaylist().
		Output(filepath.Join(yt.cacheDir, "%(id)s")).
		Run(ctx, videoURL)
	if err != nil {
		if yt.verbose && result != nil {
			fmt.Printf("Stderr: %s\n", result.Stderr)
		}
		return nil, fmt.Errorf("downloading subtitles: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(yt.cacheDir, videoID+"*.srt"))
	if err != nil {
		return nil, fmt.Errorf("listing subtitles: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoCaptions, videoID)
	}
	defer cleanupFiles(files...)

	content, err := os.ReadFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("reading SRT file: %w", err)
	}

	segments := removeDuplicates(parseSRT(string(content)))
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoCaptions, videoID)
	}
	return segments, nil
}

// parseSRT extracts caption lines with their start time from SRT content
func parseSRT(content string) []store.Segment {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var segments []store.Segment
	for block := range strings.SplitSeq(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}
		timestamp := formatTimestamp(lines[1])
		for _, line := range lines[2:] {
			if text := strings.TrimSpace(line); text != "" {
				segments = append(segments, store.Segment{Text: text, Timestamp: timestamp})
			}
		}
	}
	return segments
}

// formatTimestamp turns the start of an SRT time range
// ("00:01:05,120 --> 00:01:07,000") into "1:05", keeping hours when present.
func formatTimestamp(timeRange string) string {
	start, _, _ := strings.Cut(timeRange, " --> ")
	start, _, _ = strings.Cut(strings.TrimSpace(start), ",")

	parts := strings.Split(start, ":")
	if len(parts) != 3 {
		return start
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return start
	}
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// removeDuplicates drops lines that repeat or extend the previous one, which
// automatic captions produce as they roll
func removeDuplicates(segments []store.Segment) []store.Segment {
	result := make([]store.Segment, 0, len(segments))
	prev := ""
	for _, seg := range segments {
		if prev == "" || !(strings.Contains(seg.Text, prev) || strings.Contains(prev, seg.Text)) {
			result = append(result, seg)
		}
		prev = seg.Text
	}
	return result
}

// JoinSegments renders segments as plain text, one caption per line
func JoinSegments(segments []store.Segment) string {
	var sb strings.Builder
	for i, seg := range segments {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

// TextSegments wraps a plain-text transcript (one entry per line) as segments
// without timestamps
func TextSegments(text string) []store.Segment {
	var segments []store.Segment
	for line := range strings.SplitSeq(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			segments = append(segments, store.Segment{Text: line})
		}
	}
	return segments
}
