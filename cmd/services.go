package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rtzll/vidagent/internal"
	"github.com/rtzll/vidagent/internal/entitlements"
	"github.com/rtzll/vidagent/internal/resilience"
	"github.com/rtzll/vidagent/internal/store/sqlstore"
)

const closeTimeout = 5 * time.Second

// services is everything a command needs besides the config.
type services struct {
	app    *internal.App
	store  *sqlstore.Store
	usage  entitlements.Checker
	logger *slog.Logger

	queue   *entitlements.Queue
	closers []func() error
}

// cliLogger writes warnings to stderr, or everything with --verbose.
func cliLogger(w io.Writer) *slog.Logger {
	if config.Verbose {
		return internal.NewLogger(w, true)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// openStore opens Postgres when a database URL is configured and the
// SQLite file in the data directory otherwise.
func openStore(ctx context.Context) (*sqlstore.Store, error) {
	driver, dsn := config.DatabaseDriver, config.DatabaseURL
	switch {
	case dsn == "":
		driver, dsn = sqlstore.DriverSQLite, config.StorePath()
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		driver = sqlstore.DriverPostgres
	}
	if driver == sqlstore.DriverSQLite {
		if err := internal.EnsureDirs(config.DataDir); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	st, err := sqlstore.Open(ctx, driver, dsn, sqlstore.WithPublicURL(config.PublicURL))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// openEntitlements returns the configured usage service and its closer.
func openEntitlements() (entitlements.Service, func() error, error) {
	noop := func() error { return nil }
	switch config.Entitlements {
	case "", "none":
		return entitlements.Unlimited{}, noop, nil
	case "local":
		plans, err := entitlements.LoadPlans(config.PlansFile)
		if err != nil {
			return nil, nil, err
		}
		local, err := entitlements.NewLocal(config.UsagePath(), plans)
		if err != nil {
			return nil, nil, fmt.Errorf("opening usage database: %w", err)
		}
		return local, local.Close, nil
	case "schematic":
		if config.SchematicAPIKey == "" {
			return nil, nil, errors.New("SCHEMATIC_API_KEY is required when entitlements = \"schematic\"")
		}
		return entitlements.NewSchematic(config.SchematicAPIKey,
			entitlements.WithRequestTimeout(config.FetchTimeout),
		), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown entitlements backend %q (use local, schematic or none)", config.Entitlements)
	}
}

// newServices wires the app for one command run. Close must be called.
func newServices(ctx context.Context, logger *slog.Logger, opts ...internal.AppOption) (*services, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	s := &services{store: st, logger: logger, closers: []func() error{st.Close}}

	usage, closeUsage, err := openEntitlements()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.usage = usage
	s.closers = append(s.closers, closeUsage)

	runner := resilience.NewRunner(
		resilience.NewCache(resilience.WithTTL(config.CacheTTL)),
		resilience.WithPolicy(config.RetryPolicy()),
		resilience.WithLogger(logger),
	)

	// usage events are delivered in the background and flushed by Close
	var tracker entitlements.Tracker = usage
	if _, unlimited := usage.(entitlements.Unlimited); !unlimited {
		s.queue = entitlements.NewQueue(usage, config.UsageQueueSize, entitlements.WithQueueLogger(logger))
		tracker = s.queue
	}

	base := []internal.AppOption{
		internal.WithStore(st),
		internal.WithEntitlements(usage),
		internal.WithTracker(tracker),
		internal.WithRunner(runner),
		internal.WithLogger(logger),
	}
	s.app = internal.NewApp(config, append(base, opts...)...)
	return s, nil
}

// Close flushes pending usage events and releases the databases.
func (s *services) Close() error {
	var errs []error
	if s.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := s.queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing usage events: %w", err))
		}
		cancel()
		if dropped, failed := s.queue.Stats(); dropped > 0 || failed > 0 {
			s.logger.Warn("usage events lost", slog.Int64("dropped", dropped), slog.Int64("failed", failed))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withServices runs fn with services built for a CLI command.
func withServices(ctx context.Context, fn func(*services) error) error {
	s, err := newServices(ctx, cliLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()
	return fn(s)
}
