package domain

import "time"

// EventType classifies telemetry emitted by an installed component.
type EventType string

// Known event types.
const (
	EventRender          EventType = "render"
	EventAPICall         EventType = "api_call"
	EventHookExecution   EventType = "hook_execution"
	EventUserInteraction EventType = "user_interaction"
	EventError           EventType = "error"
	EventPerformance     EventType = "performance"
)

// Valid reports whether the event type is one of the known values.
func (t EventType) Valid() bool {
	switch t {
	case EventRender, EventAPICall, EventHookExecution, EventUserInteraction, EventError, EventPerformance:
		return true
	}
	return false
}

// Event is one immutable telemetry record for a component on a tenant site.
type Event struct {
	ID          string
	ComponentID string
	VersionID   string
	SiteID      string
	Type        EventType
	Name        string
	Category    string
	Payload     map[string]any
	Metadata    map[string]string
	DurationMS  *float64
	MemoryKB    *float64
	PagePath    string
	SessionID   string
	Country     string
	CreatedAt   time.Time
}

// ErrorEvent carries one component failure before it is persisted and grouped.
// It is transient: consumed by the collector's error path and never stored as
// a standalone entity beyond the error event row it produces.
type ErrorEvent struct {
	ComponentID string
	VersionID   string
	SiteID      string
	Type        string
	Name        string
	Message     string
	Stack       string
	Source      string
	Environment map[string]string
	SessionID   string
	PagePath    string
	State       map[string]any
	OccurredAt  time.Time
}
