// Package timeline builds a subject's deduplicated activity feed from every
// subsystem that records events about it.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	id "casetrail/pkg/domain"
	dErrors "casetrail/pkg/domain-errors"
	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/audit/dedup"
	"casetrail/pkg/platform/audit/metrics"
)

const (
	tracerName     = "casetrail/pkg/platform/audit/timeline"
	defaultTimeout = 5 * time.Second
)

// Source lists every record it holds for a subject.
type Source interface {
	ListBySubject(ctx context.Context, subject id.Reference) ([]audit.RawEvent, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, subject id.Reference) ([]audit.RawEvent, error)

func (f SourceFunc) ListBySubject(ctx context.Context, subject id.Reference) ([]audit.RawEvent, error) {
	return f(ctx, subject)
}

type registration struct {
	name     string
	source   Source
	optional bool
}

// Assembler fans out to its sources and deduplicates the combined snapshot.
type Assembler struct {
	dedup   *dedup.Service
	sources []registration
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Assembler)

// WithSource registers a required source. Its failure fails the build.
func WithSource(name string, src Source) Option {
	return func(a *Assembler) {
		a.sources = append(a.sources, registration{name: name, source: src})
	}
}

// WithOptionalSource registers a source whose failure is logged and skipped.
func WithOptionalSource(name string, src Source) Option {
	return func(a *Assembler) {
		a.sources = append(a.sources, registration{name: name, source: src, optional: true})
	}
}

// WithTimeout bounds a build when the caller's context has no earlier deadline.
func WithTimeout(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assembler) {
		a.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(a *Assembler) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

func New(d *dedup.Service, opts ...Option) (*Assembler, error) {
	if d == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "deduplication service is required")
	}
	a := &Assembler{
		dedup:   d,
		timeout: defaultTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	for _, r := range a.sources {
		if r.source == nil {
			return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("timeline source %q is nil", r.name))
		}
	}
	return a, nil
}

// Build returns the subject's deduplicated timeline, newest first. Sources are
// queried concurrently; their records are combined in registration order.
func (a *Assembler) Build(ctx context.Context, subject id.Reference) ([]audit.RawEvent, error) {
	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject is required")
	}

	ctx, span := a.tracer.Start(ctx, "audit.Timeline.Build", trace.WithAttributes(
		attribute.String("audit.subject", subject.String()),
		attribute.Int("timeline.sources", len(a.sources)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]audit.RawEvent, len(a.sources))

	for i, r := range a.sources {
		g.Go(func() error {
			events, err := r.source.ListBySubject(gctx, subject)
			if err == nil {
				results[i] = events
				return nil
			}
			if a.metrics != nil {
				a.metrics.IncSourceFailures(r.name)
			}
			if r.optional {
				a.logger.WarnContext(gctx, "timeline source failed, continuing without it",
					"source", r.name,
					"subject", subject.String(),
					"error", err,
				)
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("timeline source %q failed", r.name))
		})
	}

	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var combined []audit.RawEvent
	for _, events := range results {
		combined = append(combined, events...)
	}
	return a.dedup.Deduplicate(ctx, combined), nil
}
