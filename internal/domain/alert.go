package domain

import "time"

// AlertCondition compares a computed metric against a rule threshold.
type AlertCondition string

// Alert conditions. Spike compares against a historical baseline rather than
// the raw threshold value.
const (
	ConditionGT    AlertCondition = "gt"
	ConditionGTE   AlertCondition = "gte"
	ConditionLT    AlertCondition = "lt"
	ConditionLTE   AlertCondition = "lte"
	ConditionEQ    AlertCondition = "eq"
	ConditionSpike AlertCondition = "spike"
)

// Valid reports whether the condition is a known value.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionGT, ConditionGTE, ConditionLT, ConditionLTE, ConditionEQ, ConditionSpike:
		return true
	}
	return false
}

// Metric names an alert rule can evaluate.
const (
	MetricErrorRate     = "error_rate"
	MetricAvgRenderTime = "avg_render_time"
	MetricErrorCount    = "error_count"
	MetricRenderCount   = "render_count"
)

// AlertRule is read-only configuration maintained by the administrative
// surface outside this service.
type AlertRule struct {
	ID            string
	ComponentID   string
	AlertType     string
	Metric        string
	Condition     AlertCondition
	Threshold     float64
	WindowMinutes int
	Severity      string
	Enabled       bool
	NotifyEmails  []string
	WebhookURL    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Window returns the rule's evaluation window as a duration.
func (r AlertRule) Window() time.Duration {
	if r.WindowMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}

// AlertStatus tracks an alert's lifecycle.
type AlertStatus string

// Alert statuses.
const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is one incident raised by a rule. At most one unresolved alert
// exists per (component id, alert type, metric); the store enforces this
// with a partial unique index.
type Alert struct {
	ID               string
	RuleID           string
	ComponentID      string
	AlertType        string
	Metric           string
	Severity         string
	CurrentValue     float64
	ExpectedValue    *float64
	Threshold        float64
	AffectedSites    int64
	AffectedSessions int64
	Status           AlertStatus
	AutoResolved     bool
	TriggeredAt      time.Time
	AcknowledgedAt   *time.Time
	ResolvedAt       *time.Time
}

// PerformanceBaseline holds rolling statistics for one
// (component, version, metric), used by spike conditions to detect relative
// deviation instead of comparing against an absolute threshold.
type PerformanceBaseline struct {
	ComponentID string
	VersionID   string
	Metric      string
	Mean        float64
	StdDev      float64
	P95         float64
	SampleCount int64
	WindowDays  int
	ComputedAt  time.Time
}

// NotificationPayload is handed to the delivery layer when an alert fires.
type NotificationPayload struct {
	AlertID      string    `json:"alertId"`
	ComponentID  string    `json:"componentId"`
	AlertType    string    `json:"alertType"`
	Severity     string    `json:"severity"`
	Metric       string    `json:"metric"`
	CurrentValue float64   `json:"currentValue"`
	Threshold    float64   `json:"threshold"`
	Timestamp    time.Time `json:"timestamp"`
}
