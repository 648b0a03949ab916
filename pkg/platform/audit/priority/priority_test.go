package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"

	audit "casetrail/pkg/platform/audit"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name     string
		event    audit.RawEvent
		expected int
	}{
		{"creation action beats any kind", audit.RawEvent{Kind: audit.KindNotification, Action: "application_created"}, Creation},
		{"status change", audit.RawEvent{Kind: audit.KindStatusChange, Action: "status_changed"}, StatusChange},
		{"proof review", audit.RawEvent{Kind: audit.KindProofReview, Action: "proof_reviewed"}, Contextual},
		{"generic audit", audit.RawEvent{Kind: audit.KindAuditEvent, Action: "note_added"}, Contextual},
		{"notification", audit.RawEvent{Kind: audit.KindNotification, Action: "status_changed_notice"}, Notification},
		{"unrecognized kind", audit.RawEvent{Kind: "Webhook", Action: "delivered"}, Unrecognized},
		{"missing kind", audit.RawEvent{Action: "delivered"}, Unrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Of(tt.event))
		})
	}
}

func TestOf_StatusChangeOutranksNotification(t *testing.T) {
	sc := audit.RawEvent{Kind: audit.KindStatusChange, Action: "status_changed"}
	n := audit.RawEvent{Kind: audit.KindNotification, Action: "status_changed"}
	assert.Greater(t, Of(sc), Of(n))
}
