package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/entitlements"
	"github.com/rtzll/vidagent/internal/resilience"
	"github.com/rtzll/vidagent/internal/store"
)

const genericError = "An unexpected error occurred. Please try again later."

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Error: message})
}

var errBadRequest = errors.New("bad request")

// fail maps err to a status and a message safe to show. Unexpected errors
// are logged and replaced by a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, genericError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, internal.ErrInvalidRating):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, internal.ErrNoUser):
		status, message = http.StatusUnauthorized, "user not found"
	case errors.Is(err, entitlements.ErrFeatureUnavailable), errors.Is(err, entitlements.ErrLimitReached):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, internal.ErrNoCaptions):
		status, message = http.StatusNotFound, "no captions available for this video"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidUploadToken):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "request timed out, please try again later"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeError(w, status, message)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONSize)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	return nil
}

func videoParam(r *http.Request) (string, error) {
	id := mux.Vars(r)["videoId"]
	if !internal.IsValidYouTubeID(id) {
		return "", fmt.Errorf("%w: invalid video id", errBadRequest)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": internal.Version})
}

type analyseRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAnalyse(w http.ResponseWriter, r *http.Request) {
	var req analyseRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	_, videoID := internal.ParseArg(req.URL)
	if !internal.IsValidYouTubeID(videoID) {
		s.fail(w, r, fmt.Errorf("%w: not a YouTube video URL", errBadRequest))
		return
	}

	video, created, err := s.app.CreateOrGetVideo(r.Context(), userFrom(r.Context()), videoID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, map[string]any{"video": video, "created": created})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	videoID, err := videoParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	details, err := s.app.Details(r.Context(), videoID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, details)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	videoID, err := videoParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.app.Transcript(r.Context(), userFrom(r.Context()), videoID, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, result)
}

type titleRequest struct {
	Summary        string `json:"summary"`
	Considerations string `json:"considerations"`
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	videoID, err := videoParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req titleRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Summary) == "" {
		s.fail(w, r, fmt.Errorf("%w: summary is required", errBadRequest))
		return
	}

	title, err := s.app.GenerateTitle(r.Context(), userFrom(r.Context()), videoID, req.Summary, req.Considerations)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, title)
}

func (s *Server) handleListTitles(w http.ResponseWriter, r *http.Request) {
	videoID, err := videoParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	titles, err := s.app.Titles(r.Context(), userFrom(r.Context()), videoID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if titles == nil {
		titles = []store.Title{}
	}
	writeData(w, titles)
}

type ratingRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleRateTitle(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	summary, err := s.app.RateTitle(r.Context(), userFrom(r.Context()), mux.Vars(r)["titleId"], req.Rating, req.Feedback)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, summary)
}

type thumbnailRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateThumbnail(w http.ResponseWriter, r *http.Request) {
	videoID, err := videoParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req thumbnailRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user := userFrom(r.Context())
	if err := s.app.Allowed(r.Context(), user, entitlements.ImageGeneration); err != nil {
		s.fail(w, r, err)
		return
	}

	result := s.app.GenerateThumbnail(r.Context(), user, videoID, req.Prompt)
	if !result.Success {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListThumbnails(w http.ResponseWriter, r *http.Request) {
	videoID, err := videoParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	images, err := s.app.Thumbnails(r.Context(), userFrom(r.Context()), videoID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if images == nil {
		images = []store.Image{}
	}
	writeData(w, images)
}

type chatRequest struct {
	VideoID  string                 `json:"videoId"`
	Messages []internal.ChatMessage `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !internal.IsValidYouTubeID(req.VideoID) {
		s.fail(w, r, fmt.Errorf("%w: invalid video id", errBadRequest))
		return
	}
	if len(req.Messages) == 0 {
		s.fail(w, r, fmt.Errorf("%w: messages are required", errBadRequest))
		return
	}
	for _, m := range req.Messages {
		if m.Role != internal.RoleUser && m.Role != internal.RoleAssistant {
			s.fail(w, r, fmt.Errorf("%w: message role must be user or assistant", errBadRequest))
			return
		}
	}

	reply, err := s.app.Chat(r.Context(), userFrom(r.Context()), req.VideoID, req.Messages)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, internal.ChatMessage{Role: internal.RoleAssistant, Content: reply})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.fail(w, r, fmt.Errorf("%w: reading upload", errBadRequest))
		return
	}
	if len(data) == 0 {
		s.fail(w, r, fmt.Errorf("%w: empty upload", errBadRequest))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	storageID, err := s.store.PutBlob(r.Context(), mux.Vars(r)["token"], contentType, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"storageId": storageID})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	blob, err := s.store.GetBlob(r.Context(), mux.Vars(r)["storageId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(blob.Data)
}
