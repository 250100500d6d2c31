package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArg(t *testing.T) {
	tests := []struct {
		arg     string
		wantURL string
		wantID  string
	}{
		{"dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"  dQw4w9WgXcQ\n", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "https://example.com/watch?v=dQw4w9WgXcQ", "https://example.com/watch?v=dQw4w9WgXcQ"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			gotURL, gotID := ParseArg(tt.arg)
			assert.Equal(t, tt.wantURL, gotURL)
			assert.Equal(t, tt.wantID, gotID)
		})
	}
}

func TestGetVideoID(t *testing.T) {
	valid := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":       "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ":         "dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ":     "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abc":               "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":         "dQw4w9WgXcQ",
		"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://www.youtube.com/v/dQw4w9WgXcQ":             "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":        "dQw4w9WgXcQ",
		"https://www.youtube.com/live/dQw4w9WgXcQ":          "dQw4w9WgXcQ",
	}
	for in, want := range valid {
		got, err := getVideoID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{
		"https://vimeo.com/12345",
		"https://www.youtube.com/",
		"https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw",
		"://bad",
	} {
		_, err := getVideoID(in)
		assert.Error(t, err, in)
	}
}

func TestIsValidYouTubeID(t *testing.T) {
	assert.True(t, IsValidYouTubeID("dQw4w9WgXcQ"))
	assert.True(t, IsValidYouTubeID("a-b_c-d_e-f"))
	assert.False(t, IsValidYouTubeID("short"))
	assert.False(t, IsValidYouTubeID("dQw4w9WgXcQX"))
	assert.False(t, IsValidYouTubeID("dQw4w9WgX!Q"))

	assert.True(t, IsLikelyCommand("sumarize"))
	assert.False(t, IsLikelyCommand("dQw4w9WgXcQ"))
}

func TestValidateModel(t *testing.T) {
	assert.NoError(t, ValidateModel("gpt-4o-mini"))
	assert.ErrorContains(t, ValidateModel("gpt-2"), "unsupported model")
}
