// Package sqlstore implements store.Store on database/sql. It runs on the
// embedded modernc SQLite driver for local use and on pgx for Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rtzll/vidagent/internal/store"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type dialect struct {
	blobType  string
	timeType  string
	floatType string
	numbered  bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {blobType: "BLOB", timeType: "DATETIME", floatType: "REAL"},
	DriverPostgres: {blobType: "BYTEA", timeType: "TIMESTAMPTZ", floatType: "DOUBLE PRECISION", numbered: true},
}

// Store is a SQL-backed document store.
type Store struct {
	db        *sql.DB
	dialect   dialect
	publicURL string
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithPublicURL sets the base URL used for upload slots and image URLs.
func WithPublicURL(u string) Option {
	return func(s *Store) {
		s.publicURL = strings.TrimRight(u, "/")
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open connects to the database and applies migrations.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: d, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return s, nil
}

// SetPublicURL changes the base URL after Open, once a listener address is known.
func (s *Store) SetPublicURL(u string) {
	s.publicURL = strings.TrimRight(u, "/")
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func schema(d dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at ` + d.timeType + ` NOT NULL,
			last_analyzed ` + d.timeType + ` NOT NULL,
			UNIQUE (video_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			video_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			segments TEXT NOT NULL,
			created_at ` + d.timeType + ` NOT NULL,
			PRIMARY KEY (video_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS upload_slots (
			token TEXT PRIMARY KEY,
			created_at ` + d.timeType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blobs (
			id TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			data ` + d.blobType + ` NOT NULL,
			created_at ` + d.timeType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			storage_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at ` + d.timeType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_user_video ON images (user_id, video_id)`,
		`CREATE TABLE IF NOT EXISTS titles (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			clickbait_score ` + d.floatType + ` NOT NULL,
			seo_score ` + d.floatType + ` NOT NULL,
			readability_score ` + d.floatType + ` NOT NULL,
			created_at ` + d.timeType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_titles_user_video ON titles (user_id, video_id)`,
		`CREATE TABLE IF NOT EXISTS title_ratings (
			title_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			feedback TEXT NOT NULL DEFAULT '',
			created_at ` + d.timeType + ` NOT NULL,
			PRIMARY KEY (title_id, user_id)
		)`,
	}
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// GetVideo returns the analysed video record for a user.
func (s *Store) GetVideo(ctx context.Context, userID, videoID string) (*store.Video, error) {
	var v store.Video
	err := s.queryRow(ctx,
		`SELECT id, video_id, user_id, created_at, last_analyzed FROM videos WHERE video_id = ? AND user_id = ?`,
		videoID, userID,
	).Scan(&v.ID, &v.VideoID, &v.UserID, &v.CreatedAt, &v.LastAnalyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return &v, nil
}

// CreateVideo inserts a video record, returning the existing one if present.
func (s *Store) CreateVideo(ctx context.Context, userID, videoID string) (*store.Video, error) {
	now := s.timestamp()
	v := store.Video{
		ID:           uuid.NewString(),
		VideoID:      videoID,
		UserID:       userID,
		CreatedAt:    now,
		LastAnalyzed: now,
	}
	_, err := s.exec(ctx,
		`INSERT INTO videos (id, video_id, user_id, created_at, last_analyzed) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (video_id, user_id) DO NOTHING`,
		v.ID, v.VideoID, v.UserID, v.CreatedAt, v.LastAnalyzed,
	)
	if err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}
	return s.GetVideo(ctx, userID, videoID)
}

// TouchVideo updates the last analysed time.
func (s *Store) TouchVideo(ctx context.Context, userID, videoID string) error {
	res, err := s.exec(ctx,
		`UPDATE videos SET last_analyzed = ? WHERE video_id = ? AND user_id = ?`,
		s.timestamp(), videoID, userID,
	)
	if err != nil {
		return fmt.Errorf("touch video: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveTranscript stores or replaces a transcript.
func (s *Store) SaveTranscript(ctx context.Context, t store.Transcript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO transcripts (video_id, user_id, segments, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (video_id, user_id) DO UPDATE SET segments = excluded.segments, created_at = excluded.created_at`,
		t.VideoID, t.UserID, string(segments), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *Store) GetTranscript(ctx context.Context, userID, videoID string) (*store.Transcript, error) {
	t := store.Transcript{VideoID: videoID, UserID: userID}
	var segments string
	err := s.queryRow(ctx,
		`SELECT segments, created_at FROM transcripts WHERE video_id = ? AND user_id = ?`,
		videoID, userID,
	).Scan(&segments, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &t, nil
}

// GenerateUploadURL reserves an upload slot.
func (s *Store) GenerateUploadURL(ctx context.Context) (string, error) {
	token := uuid.NewString()
	if _, err := s.exec(ctx,
		`INSERT INTO upload_slots (token, created_at) VALUES (?, ?)`,
		token, s.timestamp(),
	); err != nil {
		return "", fmt.Errorf("create upload slot: %w", err)
	}
	return s.publicURL + "/api/storage/upload/" + token, nil
}

// PutBlob stores data for an upload slot and returns the new storage id.
// A slot accepts uploads until UploadSlotTTL has passed.
func (s *Store) PutBlob(ctx context.Context, token, contentType string, data []byte) (string, error) {
	var createdAt time.Time
	err := s.queryRow(ctx, `SELECT created_at FROM upload_slots WHERE token = ?`, token).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrInvalidUploadToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup upload slot: %w", err)
	}
	if s.now().Sub(createdAt) >= store.UploadSlotTTL {
		return "", store.ErrInvalidUploadToken
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.NewString()
	if _, err := s.exec(ctx,
		`INSERT INTO blobs (id, content_type, data, created_at) VALUES (?, ?, ?, ?)`,
		id, contentType, data, s.timestamp(),
	); err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return id, nil
}

func (s *Store) GetBlob(ctx context.Context, storageID string) (*store.Blob, error) {
	b := store.Blob{ID: storageID}
	err := s.queryRow(ctx,
		`SELECT content_type, data, created_at FROM blobs WHERE id = ?`, storageID,
	).Scan(&b.ContentType, &b.Data, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return &b, nil
}

// StoreImage records that a blob is a generated image for a video.
func (s *Store) StoreImage(ctx context.Context, img store.Image) (*store.Image, error) {
	if _, err := s.GetBlob(ctx, img.StorageID); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	img.ID = uuid.NewString()
	img.CreatedAt = s.timestamp()
	if _, err := s.exec(ctx,
		`INSERT INTO images (id, storage_id, video_id, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		img.ID, img.StorageID, img.VideoID, img.UserID, img.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	img.URL = s.blobURL(img.StorageID)
	return &img, nil
}

// ListImages returns a user's images for a video, oldest first.
func (s *Store) ListImages(ctx context.Context, userID, videoID string) ([]store.Image, error) {
	rows, err := s.query(ctx,
		`SELECT id, storage_id, video_id, user_id, created_at FROM images
		 WHERE user_id = ? AND video_id = ? ORDER BY created_at, id`,
		userID, videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []store.Image{}
	for rows.Next() {
		var img store.Image
		if err := rows.Scan(&img.ID, &img.StorageID, &img.VideoID, &img.UserID, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.URL = s.blobURL(img.StorageID)
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *Store) blobURL(storageID string) string {
	return s.publicURL + "/api/storage/" + storageID
}

func (s *Store) SaveTitle(ctx context.Context, t store.Title) (*store.Title, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = s.timestamp()
	if _, err := s.exec(ctx,
		`INSERT INTO titles (id, video_id, user_id, title, clickbait_score, seo_score, readability_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.VideoID, t.UserID, t.Title,
		t.Metrics.ClickbaitScore, t.Metrics.SEOScore, t.Metrics.ReadabilityScore, t.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("save title: %w", err)
	}
	return &t, nil
}

// ListTitles returns a user's titles for a video with their rating aggregates.
func (s *Store) ListTitles(ctx context.Context, userID, videoID string) ([]store.Title, error) {
	rows, err := s.query(ctx,
		`SELECT t.id, t.video_id, t.user_id, t.title,
		        t.clickbait_score, t.seo_score, t.readability_score, t.created_at,
		        COALESCE(AVG(r.rating), 0), COUNT(r.rating)
		 FROM titles t LEFT JOIN title_ratings r ON r.title_id = t.id
		 WHERE t.user_id = ? AND t.video_id = ?
		 GROUP BY t.id, t.video_id, t.user_id, t.title, t.clickbait_score, t.seo_score, t.readability_score, t.created_at
		 ORDER BY t.created_at, t.id`,
		userID, videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	titles := []store.Title{}
	for rows.Next() {
		var t store.Title
		if err := rows.Scan(&t.ID, &t.VideoID, &t.UserID, &t.Title,
			&t.Metrics.ClickbaitScore, &t.Metrics.SEOScore, &t.Metrics.ReadabilityScore, &t.CreatedAt,
			&t.AvgRating, &t.TotalRatings); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// RateTitle records or replaces a user's rating and returns the new aggregate.
func (s *Store) RateTitle(ctx context.Context, r store.Rating) (store.RatingSummary, error) {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM titles WHERE id = ?`, r.TitleID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.RatingSummary{}, store.ErrNotFound
	}
	if err != nil {
		return store.RatingSummary{}, fmt.Errorf("rate title: %w", err)
	}

	if _, err := s.exec(ctx,
		`INSERT INTO title_ratings (title_id, user_id, rating, feedback, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (title_id, user_id) DO UPDATE SET rating = excluded.rating, feedback = excluded.feedback, created_at = excluded.created_at`,
		r.TitleID, r.UserID, r.Rating, r.Feedback, s.timestamp(),
	); err != nil {
		return store.RatingSummary{}, fmt.Errorf("rate title: %w", err)
	}

	var sum store.RatingSummary
	if err := s.queryRow(ctx,
		`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM title_ratings WHERE title_id = ?`, r.TitleID,
	).Scan(&sum.Average, &sum.Count); err != nil {
		return store.RatingSummary{}, fmt.Errorf("rating summary: %w", err)
	}
	return sum, nil
}
