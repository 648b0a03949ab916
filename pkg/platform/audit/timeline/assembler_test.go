package timeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "casetrail/pkg/domain"
	dErrors "casetrail/pkg/domain-errors"
	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/audit/dedup"
	"casetrail/pkg/platform/audit/metrics"
	"casetrail/pkg/platform/audit/store/memory"
)

var (
	application = id.NewReference("Application", "42")
	base        = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
)

func staticSource(events ...audit.RawEvent) SourceFunc {
	return func(context.Context, id.Reference) ([]audit.RawEvent, error) {
		return events, nil
	}
}

func failingSource(err error) SourceFunc {
	return func(context.Context, id.Reference) ([]audit.RawEvent, error) {
		return nil, err
	}
}

type AssemblerSuite struct {
	suite.Suite
	dedup   *dedup.Service
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

func TestAssemblerSuite(t *testing.T) {
	suite.Run(t, new(AssemblerSuite))
}

func (s *AssemblerSuite) SetupTest() {
	s.dedup = dedup.New(dedup.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.metrics = metrics.New(nil)
	s.logs = &bytes.Buffer{}
}

func (s *AssemblerSuite) newAssembler(opts ...Option) *Assembler {
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))), WithMetrics(s.metrics))
	a, err := New(s.dedup, opts...)
	s.Require().NoError(err)
	return a
}

func (s *AssemblerSuite) TestNew() {
	s.Run("requires a dedup service", func() {
		_, err := New(nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("rejects nil sources", func() {
		_, err := New(s.dedup, WithSource("audit", nil))
		s.Error(err)
	})
}

func (s *AssemblerSuite) TestBuildMergesSourcesAndDeduplicates() {
	transition := audit.Metadata{"from_status": "in_progress", "to_status": "approved"}
	store := memory.NewInMemoryStore()
	s.Require().NoError(store.Create(context.Background(), audit.RawEvent{
		ID: "audit-1", Kind: audit.KindAuditEvent, Action: audit.ActionApplicationCreated,
		Subject: application, CreatedAt: base,
	}))

	a := s.newAssembler(
		WithSource("audit", store),
		WithSource("status", staticSource(audit.RawEvent{
			ID: "status-1", Kind: audit.KindStatusChange, Action: "status_changed",
			Subject: application, CreatedAt: base.Add(10 * time.Second), Metadata: transition,
		})),
		WithOptionalSource("notifications", staticSource(audit.RawEvent{
			ID: "notice-1", Kind: audit.KindNotification, Action: "status_changed",
			Subject: application, CreatedAt: base.Add(11 * time.Second), Metadata: transition,
		})),
	)

	events, err := a.Build(context.Background(), application)

	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("status-1", events[0].ID, "status change outranks the notification")
	s.Equal("audit-1", events[1].ID)
}

func (s *AssemblerSuite) TestOptionalSourceFailureIsSkipped() {
	a := s.newAssembler(
		WithSource("audit", staticSource(audit.RawEvent{
			ID: "a", Kind: audit.KindAuditEvent, Action: "note_added", Subject: application, CreatedAt: base,
		})),
		WithOptionalSource("notifications", failingSource(errors.New("mailer offline"))),
	)

	events, err := a.Build(context.Background(), application)

	s.Require().NoError(err)
	s.Len(events, 1)
	s.Contains(s.logs.String(), "timeline source failed")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SourceFailures.WithLabelValues("notifications")))
}

func (s *AssemblerSuite) TestRequiredSourceFailureFailsBuild() {
	a := s.newAssembler(
		WithSource("audit", failingSource(errors.New("db gone"))),
		WithOptionalSource("notifications", staticSource()),
	)

	events, err := a.Build(context.Background(), application)

	s.Nil(events)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.ErrorContains(err, `"audit"`)
}

func (s *AssemblerSuite) TestRequiresSubject() {
	a := s.newAssembler()

	_, err := a.Build(context.Background(), id.Reference{})

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestBuild_NoSourcesIsEmpty(t *testing.T) {
	a, err := New(dedup.New())
	require.NoError(t, err)

	events, err := a.Build(context.Background(), application)

	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestBuild_HonoursTimeout(t *testing.T) {
	slow := SourceFunc(func(ctx context.Context, _ id.Reference) ([]audit.RawEvent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	a, err := New(dedup.New(), WithSource("slow", slow), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = a.Build(context.Background(), application)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
