// Package server exposes the app over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/store"
)

const (
	// MaxUploadSize bounds a single upload slot body.
	MaxUploadSize = 20 << 20
	maxJSONSize   = 1 << 20

	shutdownTimeout = 10 * time.Second
)

// Server serves the JSON API and the blob storage endpoints.
type Server struct {
	app     *internal.App
	store   store.Store
	apiKey  string
	limiter *userLimiter
	logger  *slog.Logger
	router  *mux.Router
}

type Option func(*Server)

// WithAPIKey requires "Authorization: Bearer <key>" on API routes.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRateLimit allows each user r requests per second with the given burst.
// A zero rate disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(s *Server) {
		if r <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newUserLimiter(rate.Limit(r), burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server for app, storing uploads in st.
func New(app *internal.App, st store.Store, opts ...Option) *Server {
	s := &Server{
		app:     app,
		store:   st,
		limiter: newUserLimiter(2, 5),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.storageRoutes(r)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate, s.rateLimit)
	api.HandleFunc("/videos/analyse", s.handleAnalyse).Methods(http.MethodPost)
	api.HandleFunc("/videos/{videoId}", s.handleDetails).Methods(http.MethodGet)
	api.HandleFunc("/videos/{videoId}/transcript", s.handleTranscript).Methods(http.MethodGet)
	api.HandleFunc("/videos/{videoId}/titles", s.handleGenerateTitle).Methods(http.MethodPost)
	api.HandleFunc("/videos/{videoId}/titles", s.handleListTitles).Methods(http.MethodGet)
	api.HandleFunc("/titles/{titleId}/rating", s.handleRateTitle).Methods(http.MethodPost)
	api.HandleFunc("/videos/{videoId}/thumbnails", s.handleGenerateThumbnail).Methods(http.MethodPost)
	api.HandleFunc("/videos/{videoId}/thumbnails", s.handleListThumbnails).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *Server) storageRoutes(r *mux.Router) {
	r.HandleFunc("/api/storage/upload/{token}", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/storage/{storageId}", s.handleBlob).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if s.apiKey == "" {
		s.logger.Warn("no service API key configured, API routes accept any caller")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return serve(ctx, srv, nil, s.logger)
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			logger.Info("listening", slog.String("addr", srv.Addr))
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// BlobEndpoint serves only the storage routes, for CLI runs that need the
// upload slots of a local store.
type BlobEndpoint struct {
	URL  string
	stop context.CancelFunc
	done chan error
}

// StartBlobEndpoint listens on a free loopback port. Stop it with Close.
func StartBlobEndpoint(ctx context.Context, st store.Store, logger *slog.Logger) (*BlobEndpoint, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{store: st, logger: logger}
	r := mux.NewRouter()
	s.storageRoutes(r)

	ctx, cancel := context.WithCancel(ctx)
	ep := &BlobEndpoint{
		URL:  "http://" + ln.Addr().String(),
		stop: cancel,
		done: make(chan error, 1),
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() { ep.done <- serve(ctx, srv, ln, logger) }()
	return ep, nil
}

func (e *BlobEndpoint) Close() error {
	e.stop()
	return <-e.done
}
