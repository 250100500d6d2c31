package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rtzll/vidagent/internal/entitlements"
	"github.com/rtzll/vidagent/internal/store"
)

// ErrInvalidRating is returned for ratings outside 1..5
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

var clickbaitPhrases = []string{"you won't believe", "shocking", "amazing", "mind-blowing", "!!", "???"}

// ScoreTitle rates a title with simple heuristics. Each score is 1.0 for a
// title with no issues and lower when it looks like clickbait, has an
// unusual length or word count.
func ScoreTitle(title string) store.TitleMetrics {
	lower := strings.ToLower(title)

	m := store.TitleMetrics{ClickbaitScore: 1.0, SEOScore: 1.0, ReadabilityScore: 1.0}
	for _, phrase := range clickbaitPhrases {
		if strings.Contains(lower, phrase) {
			m.ClickbaitScore = 0.5
			break
		}
	}

	switch n := len([]rune(title)); {
	case n < 30:
		m.SEOScore = 0.6
	case n > 60:
		m.SEOScore = 0.7
	}

	switch words := len(strings.Fields(title)); {
	case words < 4:
		m.ReadabilityScore = 0.6
	case words > 15:
		m.ReadabilityScore = 0.7
	}
	return m
}

// cleanTitle strips the quotes and whitespace models like to wrap titles in
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// GenerateTitle asks the model for one SEO friendly title, stores it with its
// metrics and counts a title generation for the user.
func (app *App) GenerateTitle(ctx context.Context, userID, videoID, summary, considerations string) (*store.Title, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if app.store == nil {
		return nil, ErrNoStore
	}
	if err := app.entitlements.Check(ctx, userID, entitlements.TitleGeneration); err != nil {
		return nil, err
	}

	prompt, err := TitlePrompt(summary, considerations)
	if err != nil {
		return nil, err
	}

	content, err := app.ai.Complete(ctx, ChatRequest{
		Model: app.config.TitleModel,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: titleSystemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("generating title: %w", err)
	}

	text := cleanTitle(content)
	if text == "" {
		return nil, errors.New("failed to generate title")
	}

	title, err := app.store.SaveTitle(ctx, store.Title{
		VideoID: videoID,
		UserID:  userID,
		Title:   text,
		Metrics: ScoreTitle(text),
	})
	if err != nil {
		return nil, fmt.Errorf("saving title: %w", err)
	}

	app.track(ctx, entitlements.TitleGeneration, userID)
	app.logger.Info("title generated", slog.String("user", userID), slog.String("video", videoID))
	return title, nil
}

// Titles lists a user's generated titles for a video, oldest first
func (app *App) Titles(ctx context.Context, userID, videoID string) ([]store.Title, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if app.store == nil {
		return nil, ErrNoStore
	}
	return app.store.ListTitles(ctx, userID, videoID)
}

// RateTitle records the user's rating of a title and returns the new aggregate
func (app *App) RateTitle(ctx context.Context, userID, titleID string, rating int, feedback string) (store.RatingSummary, error) {
	if userID == "" {
		return store.RatingSummary{}, ErrNoUser
	}
	if rating < 1 || rating > 5 {
		return store.RatingSummary{}, ErrInvalidRating
	}
	if app.store == nil {
		return store.RatingSummary{}, ErrNoStore
	}
	return app.store.RateTitle(ctx, store.Rating{
		TitleID:  titleID,
		UserID:   userID,
		Rating:   rating,
		Feedback: strings.TrimSpace(feedback),
	})
}

// track records usage without failing the caller
func (app *App) track(ctx context.Context, feature entitlements.Feature, userID string) {
	ev := entitlements.Event{Feature: feature, UserID: userID, At: time.Now()}
	if err := app.tracker.Track(ctx, ev); err != nil {
		app.logger.Warn("tracking usage failed",
			slog.String("feature", feature.String()),
			slog.String("user", userID),
			slog.Any("error", err),
		)
	}
}
