package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

const alertColumns = `id, rule_id, component_id, alert_type, metric, severity,
	current_value, expected_value, threshold, affected_sites, affected_sessions,
	status, auto_resolved, triggered_at, acknowledged_at, resolved_at`

// ListEnabledRules returns every enabled alert rule.
func (r *Repository) ListEnabledRules(ctx context.Context) ([]domain.AlertRule, error) {
	query := `SELECT id, component_id, alert_type, metric, condition, threshold,
		window_minutes, severity, enabled, notify_emails, webhook_url, created_at, updated_at
	FROM alert_rules
	WHERE enabled
	ORDER BY component_id, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.AlertRule, 0)
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// GetRuleByID loads one rule regardless of enabled state.
func (r *Repository) GetRuleByID(ctx context.Context, ruleID string) (*domain.AlertRule, error) {
	query := `SELECT id, component_id, alert_type, metric, condition, threshold,
		window_minutes, severity, enabled, notify_emails, webhook_url, created_at, updated_at
	FROM alert_rules
	WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, ruleID)
	rule, err := scanAlertRule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return rule, nil
}

// CreateAlertIfAbsent inserts an alert unless an unresolved one already
// covers the same (component, alert type, metric). The partial unique index
// on unresolved alerts makes the guard atomic; a suppressed duplicate
// reports false with no error.
func (r *Repository) CreateAlertIfAbsent(ctx context.Context, alert *domain.Alert) (bool, error) {
	query := `INSERT INTO alerts (
		id, rule_id, component_id, alert_type, metric, severity,
		current_value, expected_value, threshold, affected_sites, affected_sessions,
		status, auto_resolved, triggered_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'active',false,$12)
	ON CONFLICT (component_id, alert_type, metric) WHERE status <> 'resolved' DO NOTHING`
	tag, err := r.pool.Exec(ctx, query,
		alert.ID,
		alert.RuleID,
		alert.ComponentID,
		alert.AlertType,
		alert.Metric,
		alert.Severity,
		alert.CurrentValue,
		floatPtrToNil(alert.ExpectedValue),
		alert.Threshold,
		alert.AffectedSites,
		alert.AffectedSessions,
		alert.TriggeredAt.UTC(),
	)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListUnresolvedAlerts returns all active and acknowledged alerts.
func (r *Repository) ListUnresolvedAlerts(ctx context.Context) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status <> 'resolved'
		ORDER BY triggered_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListAlertsByComponent returns a component's alert history, newest first.
func (r *Repository) ListAlertsByComponent(ctx context.Context, componentID string, limit, offset int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE component_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, componentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// AcknowledgeAlert marks an active alert acknowledged. Alerts already
// acknowledged or resolved are left untouched and reported as not found.
func (r *Repository) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	query := `UPDATE alerts SET status = 'acknowledged', acknowledged_at = $2
		WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, query, alertID, at.UTC())
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ResolveAlert closes an unresolved alert, recording whether the evaluator
// resolved it automatically.
func (r *Repository) ResolveAlert(ctx context.Context, alertID string, autoResolved bool, at time.Time) error {
	query := `UPDATE alerts SET status = 'resolved', auto_resolved = $2, resolved_at = $3
		WHERE id = $1 AND status <> 'resolved'`
	tag, err := r.pool.Exec(ctx, query, alertID, autoResolved, at.UTC())
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertBaselines replaces rolling statistics rows keyed by
// (component, version, metric).
func (r *Repository) UpsertBaselines(ctx context.Context, baselines []domain.PerformanceBaseline) error {
	if len(baselines) == 0 {
		return nil
	}
	query := `INSERT INTO performance_baselines (
		component_id, version_id, metric, mean, std_dev, p95, sample_count, window_days, computed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (component_id, version_id, metric) DO UPDATE SET
		mean = EXCLUDED.mean,
		std_dev = EXCLUDED.std_dev,
		p95 = EXCLUDED.p95,
		sample_count = EXCLUDED.sample_count,
		window_days = EXCLUDED.window_days,
		computed_at = EXCLUDED.computed_at`
	batch := &pgx.Batch{}
	for _, b := range baselines {
		batch.Queue(query,
			b.ComponentID,
			b.VersionID,
			b.Metric,
			b.Mean,
			b.StdDev,
			b.P95,
			b.SampleCount,
			b.WindowDays,
			b.ComputedAt.UTC(),
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range baselines {
		if _, err := results.Exec(); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

// GetBaseline loads the rolling statistics for one (component, version,
// metric).
func (r *Repository) GetBaseline(ctx context.Context, componentID, versionID, metric string) (*domain.PerformanceBaseline, error) {
	query := `SELECT component_id, version_id, metric, mean, std_dev, p95, sample_count, window_days, computed_at
	FROM performance_baselines
	WHERE component_id = $1 AND version_id = $2 AND metric = $3`
	var b domain.PerformanceBaseline
	err := r.pool.QueryRow(ctx, query, componentID, versionID, metric).Scan(
		&b.ComponentID,
		&b.VersionID,
		&b.Metric,
		&b.Mean,
		&b.StdDev,
		&b.P95,
		&b.SampleCount,
		&b.WindowDays,
		&b.ComputedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanAlertRule(row pgx.Row) (*domain.AlertRule, error) {
	var (
		rule       domain.AlertRule
		condition  string
		webhookURL sql.NullString
	)
	if err := row.Scan(
		&rule.ID,
		&rule.ComponentID,
		&rule.AlertType,
		&rule.Metric,
		&condition,
		&rule.Threshold,
		&rule.WindowMinutes,
		&rule.Severity,
		&rule.Enabled,
		&rule.NotifyEmails,
		&webhookURL,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Condition = domain.AlertCondition(condition)
	if webhookURL.Valid {
		rule.WebhookURL = webhookURL.String
	}
	return &rule, nil
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		var (
			a              domain.Alert
			status         string
			expectedValue  sql.NullFloat64
			acknowledgedAt sql.NullTime
			resolvedAt     sql.NullTime
		)
		if err := rows.Scan(
			&a.ID,
			&a.RuleID,
			&a.ComponentID,
			&a.AlertType,
			&a.Metric,
			&a.Severity,
			&a.CurrentValue,
			&expectedValue,
			&a.Threshold,
			&a.AffectedSites,
			&a.AffectedSessions,
			&status,
			&a.AutoResolved,
			&a.TriggeredAt,
			&acknowledgedAt,
			&resolvedAt,
		); err != nil {
			return nil, err
		}
		a.Status = domain.AlertStatus(status)
		a.ExpectedValue = nullToFloatPtr(expectedValue)
		if acknowledgedAt.Valid {
			t := acknowledgedAt.Time
			a.AcknowledgedAt = &t
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
