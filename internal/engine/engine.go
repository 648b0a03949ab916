// Package engine wires the audit write path, the read-time deduplicator and the
// timeline assembler from configuration.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"casetrail/internal/platform/config"
	"casetrail/internal/platform/database"
	platformredis "casetrail/internal/platform/redis"
	id "casetrail/pkg/domain"
	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/audit/dedup"
	"casetrail/pkg/platform/audit/metrics"
	"casetrail/pkg/platform/audit/publisher"
	"casetrail/pkg/platform/audit/store/memory"
	"casetrail/pkg/platform/audit/store/postgres"
	"casetrail/pkg/platform/audit/store/redislock"
	"casetrail/pkg/platform/audit/timeline"
	"casetrail/pkg/requestcontext"
)

// Store is what the engine needs from an audit store: the write path plus the
// timeline read.
type Store interface {
	publisher.Store
	timeline.Source
}

// Engine holds the wired services and the resources they own.
type Engine struct {
	Publisher *publisher.Publisher
	Dedup     *dedup.Service
	Timeline  *timeline.Assembler
	Store     Store
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry

	db     *sql.DB
	redis  *platformredis.Client
	logger *slog.Logger
}

type options struct {
	sources []namedSource
}

type namedSource struct {
	name     string
	source   timeline.Source
	optional bool
}

type Option func(*options)

// WithTimelineSource adds a required read source next to the audit store.
func WithTimelineSource(name string, src timeline.Source) Option {
	return func(o *options) {
		o.sources = append(o.sources, namedSource{name: name, source: src})
	}
}

// WithOptionalTimelineSource adds a read source whose failure only reduces completeness.
func WithOptionalTimelineSource(name string, src timeline.Source) Option {
	return func(o *options) {
		o.sources = append(o.sources, namedSource{name: name, source: src, optional: true})
	}
}

// New builds the engine. Postgres backs the store when a database URL is set,
// otherwise records live in memory. The Redis lock is used when enabled.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	e.Metrics = metrics.New(e.Registry)

	if err := e.openStore(ctx, cfg.Database); err != nil {
		return nil, err
	}

	pubOpts := []publisher.Option{
		publisher.WithWindow(cfg.Audit.WriteWindow),
		publisher.WithLogger(logger),
		publisher.WithMetrics(e.Metrics),
	}
	if cfg.Audit.LockEnabled {
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		e.redis = client
		pubOpts = append(pubOpts,
			publisher.WithLocker(redislock.New(client.Client,
				redislock.WithTTL(cfg.Audit.LockTTL),
				redislock.WithLogger(logger),
			)),
			publisher.WithLockWait(cfg.Audit.LockWait),
		)
	}

	var err error
	e.Publisher, err = publisher.New(e.Store, pubOpts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	e.Dedup = dedup.New(
		dedup.WithWindow(cfg.Audit.ReadWindow),
		dedup.WithLogger(logger),
		dedup.WithMetrics(e.Metrics),
	)

	tlOpts := []timeline.Option{
		timeline.WithSource("audit", e.Store),
		timeline.WithTimeout(cfg.Audit.SourceTimeout),
		timeline.WithLogger(logger),
		timeline.WithMetrics(e.Metrics),
	}
	for _, s := range o.sources {
		if s.optional {
			tlOpts = append(tlOpts, timeline.WithOptionalSource(s.name, s.source))
		} else {
			tlOpts = append(tlOpts, timeline.WithSource(s.name, s.source))
		}
	}
	e.Timeline, err = timeline.New(e.Dedup, tlOpts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	logger.InfoContext(ctx, "audit engine ready",
		"store", e.storeKind(),
		"lock", cfg.Audit.LockEnabled,
		"write_window", cfg.Audit.WriteWindow.String(),
		"read_window", cfg.Audit.ReadWindow.String(),
	)
	return e, nil
}

func (e *Engine) openStore(ctx context.Context, cfg config.DatabaseConfig) error {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if db == nil {
		e.Store = memory.NewInMemoryStore()
		return nil
	}
	e.db = db
	store := postgres.New(db)
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return err
		}
	}
	e.Store = store
	return nil
}

func (e *Engine) storeKind() string {
	if e.db != nil {
		return "postgres"
	}
	return "memory"
}

// DB returns the Postgres pool, or nil for the in-memory store. Callers use it
// with tx.RunInTx to commit a state change and its audit record together.
func (e *Engine) DB() *sql.DB { return e.db }

// Log records an audit event, taking request details from ctx when the input
// does not carry them.
func (e *Engine) Log(ctx context.Context, in publisher.LogInput) (*audit.RawEvent, error) {
	if in.Request == nil {
		in.Request = requestcontext.Info(ctx)
	}
	return e.Publisher.Log(ctx, in)
}

// TimelineFor returns the subject's deduplicated timeline.
func (e *Engine) TimelineFor(ctx context.Context, subject id.Reference) ([]audit.RawEvent, error) {
	return e.Timeline.Build(ctx, subject)
}

// Health pings the backing services.
func (e *Engine) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var errs []error
	if e.db != nil {
		if err := e.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if e.redis != nil {
		if err := e.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the database and redis connections.
func (e *Engine) Close() error {
	var errs []error
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}
