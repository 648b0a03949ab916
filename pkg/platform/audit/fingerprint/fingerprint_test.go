package fingerprint

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	audit "casetrail/pkg/platform/audit"
)

func TestGenerate_RuleTable(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		expected string
		rule     string
	}{
		{
			name:     "creation incorporates record identity",
			input:    Input{Action: "application_created", Identity: "evt-1"},
			expected: "application_created_evt-1",
			rule:     RuleCreation,
		},
		{
			name:     "creation without identity falls through to action",
			input:    Input{Action: "application_created"},
			expected: "application_created",
			rule:     RuleDefault,
		},
		{
			name: "proof submission uses type and method",
			input: Input{Action: "proof_submitted", Metadata: audit.Metadata{
				"proof_type": "income", "submission_method": "paper",
			}},
			expected: "proof_submitted_income_paper",
			rule:     RuleProofSubmission,
		},
		{
			name:     "proof submission missing method falls to default",
			input:    Input{Action: "proof_submitted", Metadata: audit.Metadata{"proof_type": "income"}},
			expected: "proof_submitted",
			rule:     RuleDefault,
		},
		{
			name: "proof attachment keys on blob id",
			input: Input{Action: "income_proof_attached", Metadata: audit.Metadata{
				"proof_type": "income", "blob_id": 123,
			}},
			expected: "income_proof_attached_income_blob_123",
			rule:     RuleProofAttachment,
		},
		{
			name:     "proof attachment accepts attachment_id and derives type from action",
			input:    Input{Action: "residency_proof_attached", Metadata: audit.Metadata{"attachment_id": "abc"}},
			expected: "residency_proof_attached_residency_blob_abc",
			rule:     RuleProofAttachment,
		},
		{
			name:     "proof attachment without artifact id falls to default",
			input:    Input{Action: "income_proof_attached", Metadata: audit.Metadata{"proof_type": "income"}},
			expected: "income_proof_attached",
			rule:     RuleDefault,
		},
		{
			name: "status change uses transition",
			input: Input{Action: "status_changed", Metadata: audit.Metadata{
				"from_status": "draft", "to_status": "in_progress",
			}},
			expected: "status_changed_draft-in_progress",
			rule:     RuleStatusChange,
		},
		{
			name:     "status change kind matches whatever the action",
			input:    Input{Action: "submitted", Kind: audit.KindStatusChange, Metadata: audit.Metadata{"from_status": "in_progress", "to_status": "submitted"}},
			expected: "submitted_in_progress-submitted",
			rule:     RuleStatusChange,
		},
		{
			name:     "status change missing target falls to default",
			input:    Input{Action: "status_changed", Metadata: audit.Metadata{"from_status": "draft"}},
			expected: "status_changed",
			rule:     RuleDefault,
		},
		{
			name: "proof review uses type and status",
			input: Input{Action: "proof_reviewed", Metadata: audit.Metadata{
				"proof_type": "income", "status": "rejected",
			}},
			expected: "proof_reviewed_income-rejected",
			rule:     RuleProofReview,
		},
		{
			name:     "proof review derives status and type from action",
			input:    Input{Action: "income_proof_rejected"},
			expected: "income_proof_rejected_income-rejected",
			rule:     RuleProofReview,
		},
		{
			name:     "unknown action is its own fingerprint",
			input:    Input{Action: "note_added", Metadata: audit.Metadata{"body": "hello"}},
			expected: "note_added",
			rule:     RuleDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, rule := Explain(tt.input)
			assert.Equal(t, tt.expected, fp)
			assert.Equal(t, tt.rule, rule)
		})
	}
}

func TestGenerate_KeyStyleDoesNotMatter(t *testing.T) {
	stringKeys := audit.Metadata{"proof_type": "income", "blob_id": 123}
	symbolKeys := audit.Metadata{":proof_type": "income", ":blob_id": "123"}
	floatKeys := audit.Metadata{"proof_type": "income", ":blob_id": 123.0}

	want := Of("income_proof_attached", stringKeys)
	assert.Equal(t, want, Of("income_proof_attached", symbolKeys))
	assert.Equal(t, want, Of("income_proof_attached", floatKeys))
}

func TestGenerate_DistinguishingMetadata(t *testing.T) {
	first := Of("income_proof_attached", audit.Metadata{"proof_type": "income", "blob_id": 123})
	second := Of("income_proof_attached", audit.Metadata{"proof_type": "income", "blob_id": 124})
	assert.NotEqual(t, first, second)
}

func TestForEvent_FoldsKindDetail(t *testing.T) {
	t.Run("status change detail fills metadata", func(t *testing.T) {
		e := audit.RawEvent{
			ID:           "sc-1",
			Kind:         audit.KindStatusChange,
			Action:       "status_changed",
			CreatedAt:    time.Unix(1, 0),
			StatusChange: &audit.StatusChangeDetail{FromStatus: "draft", ToStatus: "in_progress"},
		}
		assert.Equal(t, "status_changed_draft-in_progress", ForEvent(e))
	})

	t.Run("metadata wins over detail", func(t *testing.T) {
		e := audit.RawEvent{
			Kind:        audit.KindProofReview,
			Action:      "proof_reviewed",
			Metadata:    audit.Metadata{"proof_type": "residency"},
			ProofReview: &audit.ProofReviewDetail{ProofType: "income", Status: "approved"},
		}
		assert.Equal(t, "proof_reviewed_residency-approved", ForEvent(e))
	})

	t.Run("creation uses record id", func(t *testing.T) {
		a := audit.RawEvent{ID: "1", Action: "application_created"}
		b := audit.RawEvent{ID: "2", Action: "application_created"}
		assert.NotEqual(t, ForEvent(a), ForEvent(b))
	})

	t.Run("does not mutate the record metadata", func(t *testing.T) {
		md := audit.Metadata{}
		e := audit.RawEvent{
			Kind:         audit.KindStatusChange,
			Action:       "status_changed",
			Metadata:     md,
			StatusChange: &audit.StatusChangeDetail{FromStatus: "a", ToStatus: "b"},
		}
		ForEvent(e)
		assert.Empty(t, md)
	})
}

func TestRules_EndWithDefault(t *testing.T) {
	table := Rules()
	assert.Equal(t, RuleCreation, table[0].Name)
	assert.Equal(t, RuleDefault, table[len(table)-1].Name)
}

// TestGenerate_Deterministic: the same (action, metadata) always yields the same fingerprint,
// however the metadata map was built.
func TestGenerate_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	actions := gen.OneConstOf(
		"proof_submitted", "income_proof_attached", "status_changed",
		"proof_reviewed", "income_proof_rejected", "note_added",
	)
	values := gen.OneConstOf("income", "residency", "paper", "web", "draft", "approved", "")

	properties.Property("fingerprint is a pure function of its input", prop.ForAll(
		func(action, proofType, method, status string, blob int, symbol bool) bool {
			key := func(k string) string {
				if symbol {
					return ":" + k
				}
				return k
			}
			md := audit.Metadata{
				key("proof_type"):        proofType,
				key("submission_method"): method,
				key("status"):            status,
				key("from_status"):       status,
				key("to_status"):         method,
				key("blob_id"):           blob,
			}
			first := Of(action, md)
			second := Of(action, md.Clone())
			plain := Of(action, audit.Metadata{
				"proof_type": proofType, "submission_method": method, "status": status,
				"from_status": status, "to_status": method, "blob_id": blob,
			})
			return first == second && first == plain
		},
		actions, values, values, values, gen.IntRange(0, 1000), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestOf_CollidingPaddedKeys(t *testing.T) {
	md := audit.Metadata{" proof_type": "income", "proof_type ": "residency", "submission_method": "paper"}

	seen := map[string]int{}
	for range 200 {
		seen[Of("proof_submitted", md)]++
	}

	assert.Equal(t, map[string]int{"proof_submitted_income_paper": 200}, seen)
}
