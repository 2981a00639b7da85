package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

const defaultEvalInterval = time.Minute

// Dispatcher delivers notifications for newly created alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, rule domain.AlertRule, payload domain.NotificationPayload)
}

// Evaluator periodically checks every enabled rule against recent raw
// events, raises alerts when conditions trigger, and auto-resolves alerts
// whose condition has cleared. Duplicate suppression happens in the store,
// so overlapping evaluation passes stay safe.
type Evaluator struct {
	events    repository.EventRepository
	alerts    repository.AlertRepository
	baselines repository.BaselineRepository
	notifier  Dispatcher
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
}

// NewEvaluator constructs an alert evaluator.
func NewEvaluator(
	events repository.EventRepository,
	alerts repository.AlertRepository,
	baselines repository.BaselineRepository,
	notifier Dispatcher,
	logger *slog.Logger,
	interval time.Duration,
) *Evaluator {
	if interval <= 0 {
		interval = defaultEvalInterval
	}
	return &Evaluator{
		events:    events,
		alerts:    alerts,
		baselines: baselines,
		notifier:  notifier,
		logger:    logger.With("component", "alert-evaluator"),
		interval:  interval,
		now:       time.Now,
	}
}

// Run executes the evaluation loop until the context is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("alert evaluator started", "interval", e.interval)
	e.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert evaluator stopped")
			return
		case <-ticker.C:
			e.runIteration(ctx)
		}
	}
}

func (e *Evaluator) runIteration(ctx context.Context) {
	if err := e.EvaluateRules(ctx); err != nil {
		e.logger.Warn("rule evaluation pass failed", "error", err)
	}
	if err := e.ResolveCleared(ctx); err != nil {
		e.logger.Warn("alert resolution pass failed", "error", err)
	}
}

// EvaluateRules checks every enabled rule once and raises alerts for newly
// triggered conditions.
func (e *Evaluator) EvaluateRules(ctx context.Context) error {
	rules, err := e.alerts.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	now := e.now().UTC()
	for _, rule := range rules {
		if err := e.evaluateRule(ctx, rule, now); err != nil {
			e.logger.Warn("rule evaluation failed", "rule_id", rule.ID, "error", err)
		}
	}
	return nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule domain.AlertRule, now time.Time) error {
	window, err := e.measureWindow(ctx, rule, now)
	if err != nil {
		return err
	}

	triggered, expected, err := e.conditionHolds(ctx, rule, window.value)
	if err != nil {
		return err
	}
	if !triggered {
		return nil
	}

	alert := &domain.Alert{
		ID:               uuid.NewString(),
		RuleID:           rule.ID,
		ComponentID:      rule.ComponentID,
		AlertType:        rule.AlertType,
		Metric:           rule.Metric,
		Severity:         rule.Severity,
		CurrentValue:     window.value,
		ExpectedValue:    expected,
		Threshold:        rule.Threshold,
		AffectedSites:    window.sites,
		AffectedSessions: window.sessions,
		Status:           domain.AlertActive,
		TriggeredAt:      now,
	}
	created, err := e.alerts.CreateAlertIfAbsent(ctx, alert)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	if !created {
		return nil
	}

	e.logger.Info("alert raised",
		"alert_id", alert.ID,
		"component_id", alert.ComponentID,
		"metric", alert.Metric,
		"current_value", alert.CurrentValue,
		"threshold", alert.Threshold)
	if e.notifier != nil {
		e.notifier.Dispatch(ctx, rule, domain.NotificationPayload{
			AlertID:      alert.ID,
			ComponentID:  alert.ComponentID,
			AlertType:    alert.AlertType,
			Severity:     alert.Severity,
			Metric:       alert.Metric,
			CurrentValue: alert.CurrentValue,
			Threshold:    alert.Threshold,
			Timestamp:    now,
		})
	}
	return nil
}

// ResolveCleared re-evaluates every unresolved alert's originating rule and
// auto-resolves the ones whose condition no longer holds.
func (e *Evaluator) ResolveCleared(ctx context.Context) error {
	alerts, err := e.alerts.ListUnresolvedAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved alerts: %w", err)
	}
	now := e.now().UTC()
	for _, alert := range alerts {
		rule, err := e.alerts.GetRuleByID(ctx, alert.RuleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// The rule was deleted; the alert can never clear itself.
				if err := e.alerts.ResolveAlert(ctx, alert.ID, true, now); err != nil {
					e.logger.Warn("orphaned alert resolution failed", "alert_id", alert.ID, "error", err)
				}
				continue
			}
			e.logger.Warn("rule lookup failed", "alert_id", alert.ID, "error", err)
			continue
		}

		window, err := e.measureWindow(ctx, *rule, now)
		if err != nil {
			e.logger.Warn("alert recheck failed", "alert_id", alert.ID, "error", err)
			continue
		}
		triggered, _, err := e.conditionHolds(ctx, *rule, window.value)
		if err != nil {
			e.logger.Warn("alert recheck failed", "alert_id", alert.ID, "error", err)
			continue
		}
		if triggered {
			continue
		}
		if err := e.alerts.ResolveAlert(ctx, alert.ID, true, now); err != nil {
			e.logger.Warn("alert auto-resolve failed", "alert_id", alert.ID, "error", err)
			continue
		}
		e.logger.Info("alert auto-resolved", "alert_id", alert.ID, "metric", alert.Metric)
	}
	return nil
}

// windowMeasure is one rule's metric computed over its evaluation window.
type windowMeasure struct {
	value    float64
	sites    int64
	sessions int64
}

func (e *Evaluator) measureWindow(ctx context.Context, rule domain.AlertRule, now time.Time) (windowMeasure, error) {
	from := now.Add(-rule.Window())
	events, err := e.events.ListEventsRange(ctx, rule.ComponentID, from, now)
	if err != nil {
		return windowMeasure{}, fmt.Errorf("load window events: %w", err)
	}

	var (
		renders     int64
		errCount    int64
		durationSum float64
		durationN   int64
		sites       = make(map[string]struct{})
		sessions    = make(map[string]struct{})
	)
	for _, event := range events {
		if event.SiteID != "" {
			sites[event.SiteID] = struct{}{}
		}
		if event.SessionID != "" {
			sessions[event.SessionID] = struct{}{}
		}
		switch event.Type {
		case domain.EventRender:
			renders++
			if event.DurationMS != nil {
				durationSum += *event.DurationMS
				durationN++
			}
		case domain.EventError:
			errCount++
		}
	}

	measure := windowMeasure{sites: int64(len(sites)), sessions: int64(len(sessions))}
	switch rule.Metric {
	case domain.MetricErrorRate:
		if renders > 0 {
			measure.value = float64(errCount) / float64(renders)
		}
	case domain.MetricAvgRenderTime:
		if durationN > 0 {
			measure.value = durationSum / float64(durationN)
		}
	case domain.MetricErrorCount:
		measure.value = float64(errCount)
	case domain.MetricRenderCount:
		measure.value = float64(renders)
	default:
		return windowMeasure{}, fmt.Errorf("unknown metric %q", rule.Metric)
	}
	return measure, nil
}

// conditionHolds reports whether the rule triggers for the given value, and
// the expected value recorded on the alert. Spike conditions compare against
// baseline_mean * (1 + threshold/100); a missing baseline never triggers.
func (e *Evaluator) conditionHolds(ctx context.Context, rule domain.AlertRule, value float64) (bool, *float64, error) {
	if rule.Condition == domain.ConditionSpike {
		baseline, err := e.baselines.GetBaseline(ctx, rule.ComponentID, "", rule.Metric)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				e.logger.Warn("spike rule has no baseline yet", "rule_id", rule.ID, "metric", rule.Metric)
				return false, nil, nil
			}
			return false, nil, fmt.Errorf("load baseline: %w", err)
		}
		expected := baseline.Mean * (1 + rule.Threshold/100)
		return value > expected, &expected, nil
	}

	expected := rule.Threshold
	switch rule.Condition {
	case domain.ConditionGT:
		return value > rule.Threshold, &expected, nil
	case domain.ConditionGTE:
		return value >= rule.Threshold, &expected, nil
	case domain.ConditionLT:
		return value < rule.Threshold, &expected, nil
	case domain.ConditionLTE:
		return value <= rule.Threshold, &expected, nil
	case domain.ConditionEQ:
		return value == rule.Threshold, &expected, nil
	default:
		return false, nil, fmt.Errorf("unknown condition %q", rule.Condition)
	}
}

// Acknowledge marks an active alert acknowledged.
func (e *Evaluator) Acknowledge(ctx context.Context, alertID string) error {
	return e.alerts.AcknowledgeAlert(ctx, alertID, e.now().UTC())
}

// Resolve closes an alert manually.
func (e *Evaluator) Resolve(ctx context.Context, alertID string) error {
	return e.alerts.ResolveAlert(ctx, alertID, false, e.now().UTC())
}

// ListUnresolved returns all unresolved alerts.
func (e *Evaluator) ListUnresolved(ctx context.Context) ([]domain.Alert, error) {
	return e.alerts.ListUnresolvedAlerts(ctx)
}

// ListByComponent returns a component's alert history.
func (e *Evaluator) ListByComponent(ctx context.Context, componentID string, limit, offset int) ([]domain.Alert, error) {
	return e.alerts.ListAlertsByComponent(ctx, componentID, limit, offset)
}
