package postgres

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	id "casetrail/pkg/domain"
	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/sentinel"
	txcontext "casetrail/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store persists audit records in the audit_events table. Writes and reads join an
// ambient transaction from context when one is present.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit_events table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply audit schema: %w", err)
		}
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts one record. A duplicate ID is reported as sentinel.ErrConflict.
func (s *Store) Create(ctx context.Context, event audit.RawEvent) error {
	metadata, err := json.Marshal(event.Metadata.Clone())
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	var fromStatus, toStatus, proofType, reviewStatus sql.NullString
	if d := event.StatusChange; d != nil {
		fromStatus = sql.NullString{String: d.FromStatus, Valid: true}
		toStatus = sql.NullString{String: d.ToStatus, Valid: true}
	}
	if d := event.ProofReview; d != nil {
		proofType = sql.NullString{String: d.ProofType, Valid: true}
		reviewStatus = sql.NullString{String: d.Status, Valid: true}
	}

	query := `
		INSERT INTO audit_events (
			id, kind, action, subject_type, subject_id, actor_type, actor_id,
			created_at, metadata, from_status, to_status, proof_type, review_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		string(event.Kind),
		event.Action,
		event.Subject.Type,
		event.Subject.ID,
		event.Actor.Type,
		event.Actor.ID,
		event.CreatedAt.UTC(),
		metadata,
		fromStatus,
		toStatus,
		proofType,
		reviewStatus,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("audit event %s: %w", event.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, kind, action, subject_type, subject_id, actor_type, actor_id,
		   created_at, metadata, from_status, to_status, proof_type, review_status
	FROM audit_events
`

// ListInWindow returns the subject's records created in [from, to]. A non-empty action
// restricts the result to that action.
func (s *Store) ListInWindow(ctx context.Context, subject id.Reference, action string, from, to time.Time) ([]audit.RawEvent, error) {
	query := selectColumns + `
		WHERE subject_type = $1 AND subject_id = $2 AND ($3 = '' OR action = $3)
		  AND created_at BETWEEN $4 AND $5
		ORDER BY created_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, subject.Type, subject.ID, action, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query audit window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListBySubject returns every record for the subject, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject id.Reference) ([]audit.RawEvent, error) {
	return s.ListBySubjectKinds(ctx, subject, nil)
}

// ListBySubjectKinds returns the subject's records restricted to kinds. An empty
// kinds slice means all kinds.
func (s *Store) ListBySubjectKinds(ctx context.Context, subject id.Reference, kinds []audit.Kind) ([]audit.RawEvent, error) {
	query := selectColumns + `
		WHERE subject_type = $1 AND subject_id = $2
		  AND (cardinality($3::text[]) = 0 OR kind = ANY($3::text[]))
		ORDER BY created_at
	`
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, subject.Type, subject.ID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.RawEvent, error) {
	var events []audit.RawEvent

	for rows.Next() {
		var (
			event                                         audit.RawEvent
			kind                                          string
			metadata                                      []byte
			fromStatus, toStatus, proofType, reviewStatus sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&kind,
			&event.Action,
			&event.Subject.Type,
			&event.Subject.ID,
			&event.Actor.Type,
			&event.Actor.ID,
			&event.CreatedAt,
			&metadata,
			&fromStatus,
			&toStatus,
			&proofType,
			&reviewStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Kind = audit.Kind(kind)
		event.CreatedAt = event.CreatedAt.UTC()
		event.Metadata, err = decodeMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("decode audit metadata for %s: %w", event.ID, err)
		}
		if fromStatus.Valid || toStatus.Valid {
			event.StatusChange = &audit.StatusChangeDetail{FromStatus: fromStatus.String, ToStatus: toStatus.String}
		}
		if proofType.Valid || reviewStatus.Valid {
			event.ProofReview = &audit.ProofReviewDetail{ProofType: proofType.String, Status: reviewStatus.String}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

// decodeMetadata keeps JSON numbers as json.Number so large integer ids survive the
// round trip and fingerprint the same as on write.
func decodeMetadata(b []byte) (audit.Metadata, error) {
	md := audit.Metadata{}
	if len(b) == 0 {
		return md, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&md); err != nil {
		return nil, err
	}
	if md == nil {
		md = audit.Metadata{}
	}
	return md, nil
}
