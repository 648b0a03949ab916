// Package publisher is the write path of the audit log. Before a record is persisted it
// is fingerprinted and compared against the subject's records from the trailing write
// window. A match is suppressed silently, so callers that log the same action from a
// model callback and a controller produce one record.
//
// The check is best effort: two concurrent writers may both miss each other. An optional
// advisory Locker keyed by (subject, fingerprint) narrows that race. A writer that finds
// the lock held waits for it, then runs the same windowed lookup; only a stored match
// suppresses a write.
package publisher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	id "casetrail/pkg/domain"
	dErrors "casetrail/pkg/domain-errors"
	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/audit/fingerprint"
	"casetrail/pkg/platform/audit/metrics"
	"casetrail/pkg/platform/circuit"
	"casetrail/pkg/requestcontext"
)

// DefaultWindow is the trailing window inside which an equivalent record suppresses a write.
const DefaultWindow = 5 * time.Second

const (
	// DefaultLockWait bounds how long a writer waits for a lock held by another writer.
	DefaultLockWait  = 2 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

const tracerName = "casetrail/pkg/platform/audit/publisher"

// Store persists audit records and answers the windowed duplicate lookup.
type Store interface {
	Create(ctx context.Context, event audit.RawEvent) error
	// ListInWindow returns the subject's records whose CreatedAt lies in [from, to],
	// restricted to action unless action is empty.
	ListInWindow(ctx context.Context, subject id.Reference, action string, from, to time.Time) ([]audit.RawEvent, error)
}

// Locker takes a short-lived advisory lock on (subject, fingerprint).
// acquired is false when another writer holds the lock.
type Locker interface {
	Acquire(ctx context.Context, subject id.Reference, fingerprint string) (release func(context.Context), acquired bool, err error)
}

// LogInput is one audit write. Metadata must be nil or a map; OccurredAt defaults to
// the request-scoped time; Kind defaults to AuditEvent.
type LogInput struct {
	Action     string
	Actor      id.Reference
	Subject    id.Reference
	Metadata   any
	OccurredAt time.Time
	Kind       audit.Kind
	Request    *audit.RequestInfo
}

// Publisher is the write-time deduplicator.
type Publisher struct {
	store    Store
	locker   Locker
	breaker  *circuit.Breaker
	window   time.Duration
	lockWait time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Publisher)

// WithWindow overrides the write window. Non-positive values keep the default.
func WithWindow(window time.Duration) Option {
	return func(p *Publisher) {
		if window > 0 {
			p.window = window
		}
	}
}

// WithLocker enables advisory locking around the check-then-write.
func WithLocker(locker Locker) Option {
	return func(p *Publisher) {
		p.locker = locker
	}
}

// WithLockWait bounds the wait for a contended lock. After it expires the write goes
// ahead unlocked. Negative values keep the default; zero means no waiting.
func WithLockWait(wait time.Duration) Option {
	return func(p *Publisher) {
		if wait >= 0 {
			p.lockWait = wait
		}
	}
}

// WithLockBreaker replaces the breaker guarding the locker.
func WithLockBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Publisher) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func New(store Store, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "audit store is required")
	}
	p := &Publisher{
		store:    store,
		window:   DefaultWindow,
		lockWait: DefaultLockWait,
		breaker:  circuit.New("audit-lock", circuit.WithCooldown(10*time.Second)),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Window returns the configured write window.
func (p *Publisher) Window() time.Duration { return p.window }

// Log persists an audit record unless an equivalent one was recorded for the same
// subject within the write window. A suppressed write returns (nil, nil).
func (p *Publisher) Log(ctx context.Context, in LogInput) (*audit.RawEvent, error) {
	ctx, span := p.tracer.Start(ctx, "audit.Log", trace.WithAttributes(
		attribute.String("audit.action", in.Action),
		attribute.String("audit.subject", in.Subject.String()),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveLogDuration(time.Since(start).Seconds())
		}
	}()

	md, err := validate(in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	event := audit.RawEvent{
		ID:        id.NewEventID().String(),
		Kind:      in.Kind,
		Action:    strings.TrimSpace(in.Action),
		Subject:   in.Subject,
		Actor:     in.Actor,
		CreatedAt: in.OccurredAt,
		Metadata:  md,
	}
	if event.Kind == "" {
		event.Kind = audit.KindAuditEvent
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = requestcontext.Now(ctx)
	}

	fp := fingerprint.Generate(fingerprint.Input{
		Action:   event.Action,
		Kind:     event.Kind,
		Identity: event.ID,
		Metadata: md,
	})
	span.SetAttributes(attribute.String("audit.fingerprint", fp))

	release := p.lock(ctx, event.Subject, fp)
	defer release(context.WithoutCancel(ctx))

	duplicate, err := p.recentlyLogged(ctx, event, fp)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check recent audit events")
	}
	if duplicate {
		p.suppressed(ctx, event, fp, metrics.ReasonWindowMatch)
		return nil, nil
	}

	event.Metadata = md.
		With(map[string]string{audit.KeyLoggedBy: audit.LoggedByAuditLogger}).
		With(in.Request.Fields())

	if err := p.store.Create(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", event.Action,
			"subject", event.Subject.String(),
			"error", err,
		)
		span.SetStatus(codes.Error, err.Error())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist audit event")
	}
	if p.metrics != nil {
		p.metrics.IncLogged()
	}
	return &event, nil
}

func validate(in LogInput) (audit.Metadata, error) {
	if strings.TrimSpace(in.Action) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "action is required")
	}
	if in.Actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	if in.Subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	return audit.ToMetadata(in.Metadata)
}

// recentlyLogged reports whether the subject already has a record with the same
// fingerprint in [CreatedAt - window, CreatedAt]. Candidates span every action, since
// rules can map different actions to one fingerprint.
func (p *Publisher) recentlyLogged(ctx context.Context, event audit.RawEvent, fp string) (bool, error) {
	candidates, err := p.store.ListInWindow(ctx, event.Subject, "", event.CreatedAt.Add(-p.window), event.CreatedAt)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if fingerprint.ForEvent(c) == fp {
			return true, nil
		}
	}
	return false, nil
}

func (p *Publisher) suppressed(ctx context.Context, event audit.RawEvent, fp, reason string) {
	if p.metrics != nil {
		p.metrics.IncSuppressed(reason)
	}
	p.logger.DebugContext(ctx, "suppressed duplicate audit event",
		"action", event.Action,
		"subject", event.Subject.String(),
		"fingerprint", fp,
		"reason", reason,
	)
}

func noRelease(context.Context) {}

// lock takes the advisory lock when configured, waiting up to lockWait while another
// writer holds it. It never fails the write. When the lock cannot be taken the caller
// proceeds unlocked and the windowed lookup alone decides.
func (p *Publisher) lock(ctx context.Context, subject id.Reference, fp string) func(context.Context) {
	if p.locker == nil {
		return noRelease
	}
	attempt, acquired := p.tryLock(ctx, subject, fp)
	if acquired {
		return attempt.release
	}
	if !attempt.contended {
		return noRelease
	}
	if p.metrics != nil {
		p.metrics.IncLockContended()
	}

	deadline := time.NewTimer(p.lockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return noRelease
		case <-deadline.C:
			p.logger.WarnContext(ctx, "audit lock still held, writing without lock",
				"subject", subject.String(),
				"fingerprint", fp,
				"waited", p.lockWait,
			)
			return noRelease
		case <-ticker.C:
			attempt, ok := p.tryLock(ctx, subject, fp)
			if ok {
				return attempt.release
			}
			if !attempt.contended {
				return noRelease
			}
		}
	}
}

// lockAttempt is the release func of a taken lock, or why the lock was not taken.
type lockAttempt struct {
	release   func(context.Context)
	contended bool
}

// tryLock makes one acquire attempt through the breaker. Repeated backend errors open
// the breaker and locking is skipped until a probe succeeds.
func (p *Publisher) tryLock(ctx context.Context, subject id.Reference, fp string) (lockAttempt, bool) {
	if !p.breaker.Allow() {
		return lockAttempt{}, false
	}
	release, acquired, err := p.locker.Acquire(ctx, subject, fp)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncLockErrors()
		}
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.logger.WarnContext(ctx, "audit lock circuit opened, writing without lock",
				"breaker", p.breaker.Name(),
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.SetLockCircuitState(true)
			}
		} else {
			p.logger.WarnContext(ctx, "audit lock unavailable, writing without lock", "error", err)
		}
		return lockAttempt{}, false
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "audit lock circuit closed", "breaker", p.breaker.Name())
		if p.metrics != nil {
			p.metrics.SetLockCircuitState(false)
		}
	}
	if !acquired {
		return lockAttempt{contended: true}, false
	}
	if release == nil {
		release = noRelease
	}
	return lockAttempt{release: release}, true
}
