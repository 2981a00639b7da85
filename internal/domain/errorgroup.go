package domain

import "time"

// ErrorGroupStatus tracks the triage lifecycle of a grouped error.
type ErrorGroupStatus string

// Error group statuses.
const (
	ErrorGroupOpen          ErrorGroupStatus = "open"
	ErrorGroupInvestigating ErrorGroupStatus = "investigating"
	ErrorGroupResolved      ErrorGroupStatus = "resolved"
	ErrorGroupIgnored       ErrorGroupStatus = "ignored"
)

// Valid reports whether the status is a known value.
func (s ErrorGroupStatus) Valid() bool {
	switch s {
	case ErrorGroupOpen, ErrorGroupInvestigating, ErrorGroupResolved, ErrorGroupIgnored:
		return true
	}
	return false
}

// ErrorPriority ranks a grouped error.
type ErrorPriority string

// Error group priorities.
const (
	PriorityCritical ErrorPriority = "critical"
	PriorityHigh     ErrorPriority = "high"
	PriorityMedium   ErrorPriority = "medium"
	PriorityLow      ErrorPriority = "low"
)

// Valid reports whether the priority is a known value.
func (p ErrorPriority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ErrorOccurrence is one sighting of a fingerprinted error, the unit the
// grouper merges into an ErrorGroup.
type ErrorOccurrence struct {
	ComponentID string
	Fingerprint string
	Type        string
	Name        string
	Message     string
	SampleStack string
	VersionID   string
	SiteID      string
	SessionID   string
	SeenAt      time.Time
}

// ErrorGroup is the durable, deduplicated representation of one kind of
// error for one component. At most one group exists per
// (component id, fingerprint).
type ErrorGroup struct {
	ID               string
	ComponentID      string
	Fingerprint      string
	Type             string
	Name             string
	Message          string
	SampleStack      string
	Occurrences      int64
	AffectedSites    []string
	AffectedSessions []string
	AffectedVersions []string
	FirstSeen        time.Time
	LastSeen         time.Time
	Status           ErrorGroupStatus
	Priority         ErrorPriority
	AssignedTo       *string
	ResolutionNotes  *string
}

// NewErrorGroup starts a group from its first occurrence.
func NewErrorGroup(id string, occ ErrorOccurrence) ErrorGroup {
	g := ErrorGroup{
		ID:          id,
		ComponentID: occ.ComponentID,
		Fingerprint: occ.Fingerprint,
		Type:        occ.Type,
		Name:        occ.Name,
		Message:     occ.Message,
		SampleStack: occ.SampleStack,
		Occurrences: 1,
		FirstSeen:   occ.SeenAt,
		LastSeen:    occ.SeenAt,
		Status:      ErrorGroupOpen,
		Priority:    PriorityMedium,
	}
	if occ.SiteID != "" {
		g.AffectedSites = []string{occ.SiteID}
	}
	if occ.SessionID != "" {
		g.AffectedSessions = []string{occ.SessionID}
	}
	if occ.VersionID != "" {
		g.AffectedVersions = []string{occ.VersionID}
	}
	return g
}

// ApplyOccurrence merges a recurrence into the group: the occurrence count
// grows, last_seen advances, affected sets are unioned, and a resolved group
// reopens. Any other status is left untouched, so an ignored group stays
// ignored. The Postgres repository reproduces exactly these semantics in a
// single upsert statement.
func (g *ErrorGroup) ApplyOccurrence(occ ErrorOccurrence) {
	g.Occurrences++
	if occ.SeenAt.After(g.LastSeen) {
		g.LastSeen = occ.SeenAt
	}
	g.AffectedSites = appendUnique(g.AffectedSites, occ.SiteID)
	g.AffectedSessions = appendUnique(g.AffectedSessions, occ.SessionID)
	g.AffectedVersions = appendUnique(g.AffectedVersions, occ.VersionID)
	if g.Status == ErrorGroupResolved {
		g.Status = ErrorGroupOpen
	}
}

// ErrorGroupUpdate mutates triage fields on a group. Nil fields are left
// unchanged.
type ErrorGroupUpdate struct {
	ComponentID     string
	Fingerprint     string
	Status          *ErrorGroupStatus
	Priority        *ErrorPriority
	AssignedTo      *string
	ResolutionNotes *string
}

func appendUnique(values []string, value string) []string {
	if value == "" {
		return values
	}
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
