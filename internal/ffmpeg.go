package internal

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Audio splits downloaded audio into pieces the Whisper API accepts
type Audio struct {
	cmdRunner CommandRunner
	tempDir   string
	verbose   bool
}

// NewAudio creates a new audio processor
func NewAudio(cmdRunner CommandRunner, tempDir string, verbose bool) *Audio {
	return &Audio{
		cmdRunner: cmdRunner,
		tempDir:   tempDir,
		verbose:   verbose,
	}
}

// Duration returns the audio file duration in seconds
func (a *Audio) Duration(ctx context.Context, audioFile string) (float64, error) {
	output, err := a.cmdRunner.Run(ctx, "ffprobe",
		"-i", audioFile,
		"-show_entries", "format=duration",
		"-v", "quiet",
		"-of", "csv=p=0")
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, string(output))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration: %w", err)
	}
	return duration, nil
}

// ChunkCount is the number of pieces a file of size bytes needs to stay
// under limit bytes each.
func ChunkCount(size, limit int64) int {
	if size <= 0 || limit <= 0 {
		return 1
	}
	return int(math.Ceil(float64(size) / float64(limit)))
}

// Split cuts audioFile into numChunks pieces of equal duration using the
// ffmpeg segment muxer and returns their paths in playback order
func (a *Audio) Split(ctx context.Context, audioFile string, numChunks int) ([]string, error) {
	if numChunks <= 1 {
		return []string{audioFile}, nil
	}
	if err := EnsureDirs(a.tempDir); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	duration, err := a.Duration(ctx, audioFile)
	if err != nil {
		return nil, fmt.Errorf("getting audio duration: %w", err)
	}
	segment := int(math.Ceil(duration / float64(numChunks)))
	if segment < 1 {
		segment = 1
	}

	base := strings.TrimSuffix(filepath.Base(audioFile), filepath.Ext(audioFile))
	pattern := filepath.Join(a.tempDir, base+"_chunk_%03d.mp3")

	if a.verbose {
		fmt.Printf("Splitting %s into %d chunks of %ds\n", audioFile, numChunks, segment)
	}

	output, err := a.cmdRunner.Run(ctx, "ffmpeg",
		"-v", "quiet",
		"-i", audioFile,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segment),
		"-c:a", "copy",
		"-reset_timestamps", "1",
		"-y", pattern)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	chunks, err := filepath.Glob(filepath.Join(a.tempDir, base+"_chunk_*.mp3"))
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no chunks for %s", audioFile)
	}
	return chunks, nil
}

// cleanupFiles removes temporary files
func cleanupFiles(files ...string) {
	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove file %s: %v\n", file, err)
		}
	}
}
