package domain

import (
	"strings"
	"unicode/utf8"

	dErrors "casetrail/pkg/domain-errors"
)

const maxReferencePartLen = 128

// Reference points at a domain entity by type and id, e.g. Application:42 or User:7.
// Subjects and actors of audit records are both references.
type Reference struct {
	Type string
	ID   string
}

// NewReference builds a reference without validation. Use ParseReference at trust boundaries.
func NewReference(typ, id string) Reference {
	return Reference{Type: typ, ID: id}
}

// ParseReference parses the "Type:ID" form produced by String.
func ParseReference(s string) (Reference, error) {
	if !utf8.ValidString(s) {
		return Reference{}, dErrors.New(dErrors.CodeInvalidInput, "reference must be valid UTF-8")
	}
	typ, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Reference{}, dErrors.New(dErrors.CodeInvalidInput, "reference must have the form Type:ID")
	}
	ref := Reference{Type: strings.TrimSpace(typ), ID: strings.TrimSpace(id)}
	if err := ref.Validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}

// Validate checks both parts are present and bounded.
func (r Reference) Validate() error {
	if r.Type == "" || r.ID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reference type and id are required")
	}
	if len(r.Type) > maxReferencePartLen || len(r.ID) > maxReferencePartLen {
		return dErrors.New(dErrors.CodeInvalidInput, "reference is too long")
	}
	if strings.ContainsRune(r.Type, ':') {
		return dErrors.New(dErrors.CodeInvalidInput, "reference type must not contain ':'")
	}
	return nil
}

// IsZero reports whether neither part is set.
func (r Reference) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r Reference) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Type + ":" + r.ID
}
