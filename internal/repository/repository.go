package repository

import (
	"context"
	"time"

	"github.com/plugboard/analytics/internal/domain"
)

// EventRepository persists raw telemetry events and answers range queries
// over the time-partitioned store.
type EventRepository interface {
	InsertEvents(ctx context.Context, events []domain.Event) error
	ListEventsRange(ctx context.Context, componentID string, from, to time.Time) ([]domain.Event, error)
	ListRecentEvents(ctx context.Context, siteID string, eventType string, limit, offset int) ([]domain.Event, error)
	ListActiveComponents(ctx context.Context, from, to time.Time) ([]string, error)
}

// ErrorGroupRepository merges error occurrences into deduplicated groups.
// UpsertOccurrence must be atomic under concurrent recurrences of the same
// fingerprint: insert-or-increment at the store layer, never read-then-write.
type ErrorGroupRepository interface {
	UpsertOccurrence(ctx context.Context, occ domain.ErrorOccurrence) (*domain.ErrorGroup, error)
	GetErrorGroup(ctx context.Context, componentID, fingerprint string) (*domain.ErrorGroup, error)
	ListErrorGroups(ctx context.Context, componentID, status, priority string, limit, offset int) ([]domain.ErrorGroup, error)
	UpdateErrorGroup(ctx context.Context, update domain.ErrorGroupUpdate) (*domain.ErrorGroup, error)
}

// AggregateRepository stores hourly and daily rollups with
// replace-on-conflict semantics keyed by (component, version, bucket).
type AggregateRepository interface {
	UpsertHourly(ctx context.Context, aggs []domain.HourlyAggregate) error
	ListHourlyRange(ctx context.Context, componentID string, from, to time.Time) ([]domain.HourlyAggregate, error)
	UpsertDaily(ctx context.Context, aggs []domain.DailyAggregate) error
	ListDailyRange(ctx context.Context, componentID string, from, to time.Time) ([]domain.DailyAggregate, error)
}

// AlertRepository reads rule configuration and manages alert lifecycle.
// CreateAlertIfAbsent reports false without error when an unresolved alert
// already exists for the same (component, alert type, metric); the store
// enforces that guard atomically.
type AlertRepository interface {
	ListEnabledRules(ctx context.Context) ([]domain.AlertRule, error)
	GetRuleByID(ctx context.Context, ruleID string) (*domain.AlertRule, error)
	CreateAlertIfAbsent(ctx context.Context, alert *domain.Alert) (bool, error)
	ListUnresolvedAlerts(ctx context.Context) ([]domain.Alert, error)
	ListAlertsByComponent(ctx context.Context, componentID string, limit, offset int) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error
	ResolveAlert(ctx context.Context, alertID string, autoResolved bool, at time.Time) error
}

// BaselineRepository stores rolling per-metric statistics for spike
// detection.
type BaselineRepository interface {
	UpsertBaselines(ctx context.Context, baselines []domain.PerformanceBaseline) error
	GetBaseline(ctx context.Context, componentID, versionID, metric string) (*domain.PerformanceBaseline, error)
}
