// Package priority ranks records so one representative can be chosen per duplicate group.
package priority

import audit "casetrail/pkg/platform/audit"

// Ranks, higher wins. Status changes carry validated before/after state; audit and review
// records carry rich context; notifications are least specific.
const (
	Unrecognized = 0
	Notification = 1
	Contextual   = 2
	StatusChange = 3
	Creation     = 4
)

var kindRanks = map[audit.Kind]int{
	audit.KindStatusChange: StatusChange,
	audit.KindProofReview:  Contextual,
	audit.KindAuditEvent:   Contextual,
	audit.KindNotification: Notification,
}

// Of returns the rank of e. Creation actions outrank every kind.
func Of(e audit.RawEvent) int {
	if e.IsCreation() {
		return Creation
	}
	if rank, ok := kindRanks[e.Kind]; ok {
		return rank
	}
	return Unrecognized
}
