package entitlements

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Local meters usage in a SQLite database against plans loaded from YAML.
type Local struct {
	db    *sql.DB
	plans []Plan
	now   func() time.Time
}

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	feature TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_feature_time ON usage_events(user_id, feature, created_at);
`

// NewLocal opens the usage database at dbPath and runs auto-migration.
func NewLocal(dbPath string, plans []Plan) (*Local, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createUsageTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &Local{db: db, plans: plans, now: time.Now}, nil
}

// Check implements Checker.
func (l *Local) Check(ctx context.Context, userID string, feature Feature) error {
	u, err := l.usage(ctx, userID, feature)
	if err != nil {
		return fmt.Errorf("check %s usage: %w", feature, err)
	}
	return evaluate(u, feature)
}

// Track implements Tracker.
func (l *Local) Track(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = l.now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_events (user_id, feature, created_at) VALUES (?, ?, ?)`,
		ev.UserID, string(ev.Feature), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Status returns current usage of every feature the user's plans cover.
func (l *Local) Status(ctx context.Context, userID string) ([]Usage, error) {
	var out []Usage
	for _, f := range Features {
		u, err := l.usage(ctx, userID, f)
		if err != nil {
			return nil, fmt.Errorf("usage status: %w", err)
		}
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

// Close releases the database connection.
func (l *Local) Close() error {
	return l.db.Close()
}

// usage returns nil when no plan covers the feature for userID.
func (l *Local) usage(ctx context.Context, userID string, feature Feature) (*Usage, error) {
	p, ok := l.planFor(userID, feature)
	if !ok {
		return nil, nil
	}

	since := periodStart(p.Period, l.now())
	var used int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND feature = ? AND created_at >= ?`,
		userID, string(feature), since,
	).Scan(&used)
	if err != nil {
		return nil, err
	}
	return &Usage{Feature: feature, Usage: used, Allocation: p.Allocation}, nil
}

// planFor prefers a plan naming the user over a "*" plan.
func (l *Local) planFor(userID string, feature Feature) (Plan, bool) {
	var fallback *Plan
	for i, p := range l.plans {
		if p.Feature != feature {
			continue
		}
		if p.User == userID {
			return p, true
		}
		if p.User == "*" && fallback == nil {
			fallback = &l.plans[i]
		}
	}
	if fallback == nil {
		return Plan{}, false
	}
	return *fallback, true
}
