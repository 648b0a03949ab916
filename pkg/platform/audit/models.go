package audit

import (
	"strings"
	"time"

	id "casetrail/pkg/domain"
)

// Kind discriminates the record family a RawEvent originated from.
// Ranking and fingerprinting switch on it explicitly.
type Kind string

const (
	// KindAuditEvent is an explicit audit log entry written through the audit logger.
	KindAuditEvent Kind = "AuditEvent"
	// KindStatusChange is a validated before/after state transition on the subject.
	KindStatusChange Kind = "StatusChange"
	// KindProofReview is a reviewer decision on a submitted proof.
	KindProofReview Kind = "ProofReview"
	// KindNotification is a message sent about the subject. Least specific of the kinds.
	KindNotification Kind = "Notification"
)

// Known reports whether k is one of the recognized kinds.
func (k Kind) Known() bool {
	switch k {
	case KindAuditEvent, KindStatusChange, KindProofReview, KindNotification:
		return true
	}
	return false
}

// StatusChangeDetail is carried by KindStatusChange records.
type StatusChangeDetail struct {
	FromStatus string
	ToStatus   string
}

// ProofReviewDetail is carried by KindProofReview records.
type ProofReviewDetail struct {
	ProofType string
	Status    string
}

// RawEvent is one event-like record about a subject, whatever subsystem produced it.
// Records are immutable once created. Kind-specific detail is optional and only
// meaningful for the matching Kind.
type RawEvent struct {
	ID        string
	Kind      Kind
	Action    string
	Subject   id.Reference
	Actor     id.Reference // zero when the record has no actor
	CreatedAt time.Time
	Metadata  Metadata

	StatusChange *StatusChangeDetail
	ProofReview  *ProofReviewDetail
}

// Malformed reports whether the record lacks what grouping depends on.
func (e RawEvent) Malformed() bool {
	return strings.TrimSpace(e.Action) == "" || e.CreatedAt.IsZero()
}

// IsCreation reports whether the record is a creation event.
func (e RawEvent) IsCreation() bool {
	return IsCreationAction(e.Action)
}

// creationSuffix marks actions that create the subject, e.g. "application_created".
const creationSuffix = "_created"

// IsCreationAction reports whether action creates a record. Creation events are never
// deduplicated against each other.
func IsCreationAction(action string) bool {
	return strings.HasSuffix(action, creationSuffix)
}

// Common actions emitted by the case workflow.
const (
	ActionApplicationCreated = "application_created"
	ActionStatusChanged      = "status_changed"
	ActionProofSubmitted     = "proof_submitted"
	ActionProofReviewed      = "proof_reviewed"
)

// Metadata keys with meaning to the engine.
const (
	KeyProofType        = "proof_type"
	KeySubmissionMethod = "submission_method"
	KeyBlobID           = "blob_id"
	KeyAttachmentID     = "attachment_id"
	KeyFromStatus       = "from_status"
	KeyToStatus         = "to_status"
	KeyStatus           = "status"

	KeyLoggedBy  = "logged_by"
	KeyIPAddress = "ip_address"
	KeyClientID  = "client_id"
	KeyRequestID = "request_id"
	KeyUserAgent = "user_agent"
	KeyDevice    = "device"
)

// LoggedByAuditLogger is the provenance marker stamped on records written by the audit logger.
const LoggedByAuditLogger = "audit_logger"

// RequestInfo is the ambient request context recorded with a write. It is passed
// explicitly; absent fields are simply omitted from the stored metadata.
type RequestInfo struct {
	IPAddress string
	ClientID  string
	RequestID string
	UserAgent string
	Device    string // parsed user agent summary, e.g. "Firefox 120 on Linux"
}

// Fields returns the non-empty request fields keyed by their metadata names.
func (r *RequestInfo) Fields() map[string]string {
	if r == nil {
		return nil
	}
	out := make(map[string]string, 5)
	if r.IPAddress != "" {
		out[KeyIPAddress] = r.IPAddress
	}
	if r.ClientID != "" {
		out[KeyClientID] = r.ClientID
	}
	if r.RequestID != "" {
		out[KeyRequestID] = r.RequestID
	}
	if r.UserAgent != "" {
		out[KeyUserAgent] = r.UserAgent
	}
	if r.Device != "" {
		out[KeyDevice] = r.Device
	}
	return out
}
