// Package grouping partitions records into duplicate groups keyed by
// (fingerprint, time bucket) and picks one representative per group.
package grouping

import (
	"time"

	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/audit/priority"
)

// DefaultWindow is the read-time bucket width.
const DefaultWindow = 60 * time.Second

// FingerprintFunc maps a record to its fingerprint.
type FingerprintFunc func(audit.RawEvent) string

// Member is a record placed in a group, with the facts used to rank it.
type Member struct {
	Event    audit.RawEvent
	Position int
	Priority int
}

// Group holds records sharing a fingerprint and bucket.
type Group struct {
	Fingerprint string
	Bucket      int64
	Members     []Member
	winner      int
}

// Winner returns the member chosen to represent the group.
func (g Group) Winner() Member {
	return g.Members[g.winner]
}

type groupKey struct {
	fingerprint string
	bucket      int64
	// singleton is non-zero for records that must never share a group.
	singleton int
}

// Bucket truncates t to the start of its window, in Unix seconds. Windows count whole
// seconds: a fractional part is dropped and anything under a second widens to one.
func Bucket(t time.Time, window time.Duration) int64 {
	w := windowSeconds(window)
	sec := t.Unix()
	q := sec / w
	if sec%w != 0 && sec < 0 {
		q--
	}
	return q * w
}

func windowSeconds(window time.Duration) int64 {
	if window <= 0 {
		window = DefaultWindow
	}
	w := int64(window / time.Second)
	if w < 1 {
		w = 1
	}
	return w
}

// ByFingerprint partitions events. Membership depends only on each record's key, so the
// partition does not depend on input order; groups are returned in order of first
// appearance. Creation records each form their own group.
func ByFingerprint(events []audit.RawEvent, window time.Duration, fingerprint FingerprintFunc) []Group {
	index := make(map[groupKey]int, len(events))
	groups := make([]Group, 0, len(events))

	for pos, e := range events {
		fp := fingerprint(e)
		key := groupKey{fingerprint: fp, bucket: Bucket(e.CreatedAt, window)}
		if e.IsCreation() {
			key.singleton = pos + 1
		}
		m := Member{Event: e, Position: pos, Priority: priority.Of(e)}

		gi, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, Group{Fingerprint: fp, Bucket: key.bucket, Members: []Member{m}})
			continue
		}
		g := &groups[gi]
		g.Members = append(g.Members, m)
		if Outranks(m, g.Members[g.winner]) {
			g.winner = len(g.Members) - 1
		}
	}
	return groups
}

// Outranks reports whether a should represent a group over b: higher priority, then the
// later record, then the smaller record ID, then the earlier input position.
func Outranks(a, b Member) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.Event.CreatedAt.Equal(b.Event.CreatedAt) {
		return a.Event.CreatedAt.After(b.Event.CreatedAt)
	}
	if a.Event.ID != b.Event.ID {
		return a.Event.ID < b.Event.ID
	}
	return a.Position < b.Position
}
