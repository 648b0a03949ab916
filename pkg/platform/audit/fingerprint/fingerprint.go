// Package fingerprint derives the signature that identifies "the same logical event".
//
// Fingerprints are computed from an ordered table of rules, most specific first. A rule
// applies when its predicate matches and every field it needs is present; otherwise
// evaluation falls through to the next, coarser rule. The last rule (the bare action)
// always applies, so fingerprinting never fails.
package fingerprint

import (
	"strings"

	audit "casetrail/pkg/platform/audit"
)

// Input is everything a rule may consult.
type Input struct {
	Action string
	Kind   audit.Kind
	// Identity is the record's own ID. Only the creation rule reads it.
	Identity string
	Metadata audit.Metadata
}

// Rule is one row of the fingerprint table.
type Rule struct {
	Name    string
	Matches func(Input) bool
	Build   func(Input) (string, bool)
}

// Rule names, in evaluation order.
const (
	RuleCreation        = "creation"
	RuleProofSubmission = "proof_submission"
	RuleProofAttachment = "proof_attachment"
	RuleStatusChange    = "status_change"
	RuleProofReview     = "proof_review"
	RuleDefault         = "default"
)

const (
	proofInfix           = "_proof_"
	attachmentSeparator  = "_blob_"
	statusTransitionJoin = "-"
)

var rules = []Rule{
	{
		Name:    RuleCreation,
		Matches: func(in Input) bool { return audit.IsCreationAction(in.Action) },
		Build: func(in Input) (string, bool) {
			identity := strings.TrimSpace(in.Identity)
			if identity == "" {
				return "", false
			}
			return in.Action + "_" + identity, true
		},
	},
	{
		Name:    RuleProofSubmission,
		Matches: func(in Input) bool { return strings.Contains(in.Action, "proof_submitted") },
		Build: func(in Input) (string, bool) {
			proofType, ok := proofTypeOf(in)
			if !ok {
				return "", false
			}
			method, ok := in.Metadata.String(audit.KeySubmissionMethod)
			if !ok {
				return "", false
			}
			return in.Action + "_" + proofType + "_" + method, true
		},
	},
	{
		Name:    RuleProofAttachment,
		Matches: func(in Input) bool { return strings.Contains(in.Action, "proof_attached") },
		Build: func(in Input) (string, bool) {
			blobID, ok := in.Metadata.FirstString(audit.KeyBlobID, audit.KeyAttachmentID)
			if !ok {
				return "", false
			}
			proofType, ok := proofTypeOf(in)
			if !ok {
				return "", false
			}
			return in.Action + "_" + proofType + attachmentSeparator + blobID, true
		},
	},
	{
		Name: RuleStatusChange,
		Matches: func(in Input) bool {
			return in.Kind == audit.KindStatusChange || strings.Contains(in.Action, "status_change")
		},
		Build: func(in Input) (string, bool) {
			from, ok := in.Metadata.String(audit.KeyFromStatus)
			if !ok {
				return "", false
			}
			to, ok := in.Metadata.String(audit.KeyToStatus)
			if !ok {
				return "", false
			}
			return in.Action + "_" + from + statusTransitionJoin + to, true
		},
	},
	{
		Name: RuleProofReview,
		Matches: func(in Input) bool {
			return in.Kind == audit.KindProofReview ||
				strings.Contains(in.Action, "proof_review") ||
				strings.HasSuffix(in.Action, "proof_approved") ||
				strings.HasSuffix(in.Action, "proof_rejected")
		},
		Build: func(in Input) (string, bool) {
			proofType, ok := proofTypeOf(in)
			if !ok {
				return "", false
			}
			status, ok := reviewStatusOf(in)
			if !ok {
				return "", false
			}
			return in.Action + "_" + proofType + statusTransitionJoin + status, true
		},
	},
	{
		Name:    RuleDefault,
		Matches: func(Input) bool { return true },
		Build:   func(in Input) (string, bool) { return in.Action, true },
	},
}

// Rules returns a copy of the table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Generate returns the fingerprint for in.
func Generate(in Input) string {
	fp, _ := Explain(in)
	return fp
}

// Explain returns the fingerprint and the name of the rule that produced it.
func Explain(in Input) (string, string) {
	in.Action = strings.TrimSpace(in.Action)
	for _, r := range rules {
		if !r.Matches(in) {
			continue
		}
		if fp, ok := r.Build(in); ok {
			return fp, r.Name
		}
	}
	return in.Action, RuleDefault
}

// Of fingerprints an action and its metadata.
func Of(action string, metadata audit.Metadata) string {
	return Generate(Input{Action: action, Metadata: metadata})
}

// ForEvent fingerprints a stored record. Kind-specific detail fills metadata gaps and the
// record ID serves as identity.
func ForEvent(e audit.RawEvent) string {
	return Generate(InputFor(e))
}

// InputFor builds the rule input for a record.
func InputFor(e audit.RawEvent) Input {
	md := e.Metadata
	fill := map[string]string{}
	if e.StatusChange != nil {
		setIfMissing(md, fill, audit.KeyFromStatus, e.StatusChange.FromStatus)
		setIfMissing(md, fill, audit.KeyToStatus, e.StatusChange.ToStatus)
	}
	if e.ProofReview != nil {
		setIfMissing(md, fill, audit.KeyProofType, e.ProofReview.ProofType)
		setIfMissing(md, fill, audit.KeyStatus, e.ProofReview.Status)
	}
	if len(fill) > 0 {
		md = md.With(fill)
	}
	return Input{
		Action:   e.Action,
		Kind:     e.Kind,
		Identity: e.ID,
		Metadata: md,
	}
}

func setIfMissing(md audit.Metadata, fill map[string]string, key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if _, ok := md.String(key); ok {
		return
	}
	fill[key] = value
}

// proofTypeOf reads proof_type, falling back to the action prefix ("income_proof_attached").
func proofTypeOf(in Input) (string, bool) {
	if pt, ok := in.Metadata.String(audit.KeyProofType); ok {
		return pt, true
	}
	if idx := strings.Index(in.Action, proofInfix); idx > 0 {
		return in.Action[:idx], true
	}
	return "", false
}

func reviewStatusOf(in Input) (string, bool) {
	if status, ok := in.Metadata.String(audit.KeyStatus); ok {
		return status, true
	}
	switch {
	case strings.HasSuffix(in.Action, "_approved"):
		return "approved", true
	case strings.HasSuffix(in.Action, "_rejected"):
		return "rejected", true
	}
	return "", false
}
