package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rtzll/vidagent/internal/store"
)

func TestScoreTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  store.TitleMetrics
	}{
		{
			name:  "well formed",
			title: "How Go Schedules Goroutines Across OS Threads",
			want:  store.TitleMetrics{ClickbaitScore: 1, SEOScore: 1, ReadabilityScore: 1},
		},
		{
			name:  "clickbait",
			title: "You Won't Believe What Goroutines Can Do Today",
			want:  store.TitleMetrics{ClickbaitScore: 0.5, SEOScore: 1, ReadabilityScore: 1},
		},
		{
			name:  "short",
			title: "Goroutines",
			want:  store.TitleMetrics{ClickbaitScore: 1, SEOScore: 0.6, ReadabilityScore: 0.6},
		},
		{
			name:  "long",
			title: "A Very Long And Winding Introduction To Every Single Thing You Could Ever Want To Know About Go",
			want:  store.TitleMetrics{ClickbaitScore: 1, SEOScore: 0.7, ReadabilityScore: 0.7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreTitle(tt.title))
		})
	}
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Go Generics", cleanTitle("  \"Go Generics\"\n"))
	assert.Equal(t, "Go Generics", cleanTitle("'Go Generics'"))
	assert.Empty(t, cleanTitle(` "" `))
}
