package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "casetrail/pkg/domain-errors"
)

// EventID identifies a persisted audit record.
type EventID uuid.UUID

// NewEventID returns a fresh random event identity.
func NewEventID() EventID {
	return EventID(uuid.New())
}

// ParseEventID validates and returns an EventID.
// Empty, malformed and nil UUIDs are rejected.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EventID{}, err
	}
	return EventID(u), nil
}

func (e EventID) String() string { return uuid.UUID(e).String() }

// IsNil reports whether the ID is the zero UUID.
func (e EventID) IsNil() bool { return uuid.UUID(e) == uuid.Nil }

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be nil")
	}
	return u, nil
}
