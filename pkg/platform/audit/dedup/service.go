// Package dedup collapses a subject's raw records into a clean, newest-first timeline.
//
// Deduplicate is pure: it runs in memory, in a single pass, with no I/O. Records sharing a
// fingerprint inside one read window are folded into the highest-priority member.
// Running it twice gives the same result as running it once, because no two survivors
// share a (fingerprint, bucket) key.
package dedup

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/audit/fingerprint"
	"casetrail/pkg/platform/audit/grouping"
	"casetrail/pkg/platform/audit/metrics"
)

const tracerName = "casetrail/pkg/platform/audit/dedup"

// Service is the read-time deduplicator.
type Service struct {
	window      time.Duration
	fingerprint grouping.FingerprintFunc
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithWindow overrides the read window. Non-positive values keep the default.
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithLogger sets the logger used to report skipped records.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New creates a read-time deduplicator with a 60s window.
func New(opts ...Option) *Service {
	s := &Service{
		window:      grouping.DefaultWindow,
		fingerprint: fingerprint.ForEvent,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the bucket width in use.
func (s *Service) Window() time.Duration { return s.window }

// Report is the outcome of one deduplication pass.
type Report struct {
	Events    []audit.RawEvent
	Input     int
	Malformed int
	Collapsed int
}

// Deduplicate returns one record per (fingerprint, bucket) group, newest first.
func (s *Service) Deduplicate(ctx context.Context, events []audit.RawEvent) []audit.RawEvent {
	return s.DeduplicateReport(ctx, events).Events
}

// DeduplicateReport is Deduplicate plus counts of what was skipped and folded.
func (s *Service) DeduplicateReport(ctx context.Context, events []audit.RawEvent) Report {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "audit.Deduplicate",
		trace.WithAttributes(attribute.Int("audit.input_events", len(events))))
	defer span.End()

	valid := make([]audit.RawEvent, 0, len(events))
	malformed := 0
	for pos, e := range events {
		if e.Malformed() {
			malformed++
			s.logger.WarnContext(ctx, "skipping malformed timeline event",
				"position", pos,
				"event_id", e.ID,
				"kind", e.Kind,
				"subject", e.Subject.String(),
				"missing_action", e.Action == "",
				"missing_created_at", e.CreatedAt.IsZero(),
			)
			continue
		}
		valid = append(valid, e)
	}

	groups := grouping.ByFingerprint(valid, s.window, s.fingerprint)
	winners := make([]grouping.Member, 0, len(groups))
	for _, g := range groups {
		winners = append(winners, g.Winner())
	}
	slices.SortStableFunc(winners, newestFirst)

	out := make([]audit.RawEvent, len(winners))
	for i, m := range winners {
		out[i] = m.Event
	}

	report := Report{
		Events:    out,
		Input:     len(events),
		Malformed: malformed,
		Collapsed: len(valid) - len(out),
	}
	span.SetAttributes(
		attribute.Int("audit.output_events", len(out)),
		attribute.Int("audit.collapsed_events", report.Collapsed),
		attribute.Int("audit.malformed_events", malformed),
	)
	if s.metrics != nil {
		s.metrics.ObserveDedup(report.Input, report.Collapsed, report.Malformed, time.Since(start).Seconds())
	}
	return report
}

// newestFirst orders by time descending with deterministic ties:
// higher priority, then smaller ID, then input position.
func newestFirst(a, b grouping.Member) int {
	if c := b.Event.CreatedAt.Compare(a.Event.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Event.ID, b.Event.ID); c != 0 {
		return c
	}
	return cmp.Compare(a.Position, b.Position)
}
