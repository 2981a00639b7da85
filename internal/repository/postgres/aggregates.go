package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plugboard/analytics/internal/domain"
)

// UpsertHourly writes hourly rollups in one batch, fully replacing any
// existing row for the same (component, version, hour) so recomputing a
// bucket is idempotent.
func (r *Repository) UpsertHourly(ctx context.Context, aggs []domain.HourlyAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	query := `INSERT INTO hourly_aggregates (
		component_id, version_id, hour_start,
		renders, unique_sites, unique_sessions,
		api_calls, api_successes, api_errors, api_avg_ms,
		errors, interactions,
		render_avg_ms, render_p50_ms, render_p95_ms, render_p99_ms, render_max_ms,
		memory_min_kb, memory_avg_kb, memory_max_kb,
		error_breakdown, interaction_breakdown, country_breakdown,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	ON CONFLICT (component_id, version_id, hour_start) DO UPDATE SET
		renders = EXCLUDED.renders,
		unique_sites = EXCLUDED.unique_sites,
		unique_sessions = EXCLUDED.unique_sessions,
		api_calls = EXCLUDED.api_calls,
		api_successes = EXCLUDED.api_successes,
		api_errors = EXCLUDED.api_errors,
		api_avg_ms = EXCLUDED.api_avg_ms,
		errors = EXCLUDED.errors,
		interactions = EXCLUDED.interactions,
		render_avg_ms = EXCLUDED.render_avg_ms,
		render_p50_ms = EXCLUDED.render_p50_ms,
		render_p95_ms = EXCLUDED.render_p95_ms,
		render_p99_ms = EXCLUDED.render_p99_ms,
		render_max_ms = EXCLUDED.render_max_ms,
		memory_min_kb = EXCLUDED.memory_min_kb,
		memory_avg_kb = EXCLUDED.memory_avg_kb,
		memory_max_kb = EXCLUDED.memory_max_kb,
		error_breakdown = EXCLUDED.error_breakdown,
		interaction_breakdown = EXCLUDED.interaction_breakdown,
		country_breakdown = EXCLUDED.country_breakdown,
		updated_at = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, agg := range aggs {
		errBreakdown, err := marshalMap(agg.ErrorBreakdown)
		if err != nil {
			return fmt.Errorf("marshal error breakdown: %w", err)
		}
		intBreakdown, err := marshalMap(agg.InteractionBreakdown)
		if err != nil {
			return fmt.Errorf("marshal interaction breakdown: %w", err)
		}
		ctryBreakdown, err := marshalMap(agg.CountryBreakdown)
		if err != nil {
			return fmt.Errorf("marshal country breakdown: %w", err)
		}
		batch.Queue(query,
			agg.ComponentID,
			agg.VersionID,
			agg.HourStart.UTC(),
			agg.Renders,
			agg.UniqueSites,
			agg.UniqueSessions,
			agg.APICalls,
			agg.APISuccesses,
			agg.APIErrors,
			floatPtrToNil(agg.APIAvgMS),
			agg.Errors,
			agg.Interactions,
			floatPtrToNil(agg.RenderAvgMS),
			floatPtrToNil(agg.RenderP50MS),
			floatPtrToNil(agg.RenderP95MS),
			floatPtrToNil(agg.RenderP99MS),
			floatPtrToNil(agg.RenderMaxMS),
			floatPtrToNil(agg.MemoryMinKB),
			floatPtrToNil(agg.MemoryAvgKB),
			floatPtrToNil(agg.MemoryMaxKB),
			errBreakdown,
			intBreakdown,
			ctryBreakdown,
			agg.UpdatedAt.UTC(),
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range aggs {
		if _, err := results.Exec(); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

// ListHourlyRange returns a component's hourly rollups with
// from <= hour_start < to, oldest first.
func (r *Repository) ListHourlyRange(ctx context.Context, componentID string, from, to time.Time) ([]domain.HourlyAggregate, error) {
	query := `SELECT component_id, version_id, hour_start,
		renders, unique_sites, unique_sessions,
		api_calls, api_successes, api_errors, api_avg_ms,
		errors, interactions,
		render_avg_ms, render_p50_ms, render_p95_ms, render_p99_ms, render_max_ms,
		memory_min_kb, memory_avg_kb, memory_max_kb,
		error_breakdown, interaction_breakdown, country_breakdown,
		updated_at
	FROM hourly_aggregates
	WHERE component_id = $1 AND hour_start >= $2 AND hour_start < $3
	ORDER BY hour_start ASC, version_id ASC`
	rows, err := r.pool.Query(ctx, query, componentID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggs := make([]domain.HourlyAggregate, 0)
	for rows.Next() {
		var (
			agg             domain.HourlyAggregate
			apiAvg          sql.NullFloat64
			renderAvg       sql.NullFloat64
			renderP50       sql.NullFloat64
			renderP95       sql.NullFloat64
			renderP99       sql.NullFloat64
			renderMax       sql.NullFloat64
			memMin          sql.NullFloat64
			memAvg          sql.NullFloat64
			memMax          sql.NullFloat64
			errBreakdownRaw []byte
			intBreakdownRaw []byte
			ctryRaw         []byte
		)
		if err := rows.Scan(
			&agg.ComponentID,
			&agg.VersionID,
			&agg.HourStart,
			&agg.Renders,
			&agg.UniqueSites,
			&agg.UniqueSessions,
			&agg.APICalls,
			&agg.APISuccesses,
			&agg.APIErrors,
			&apiAvg,
			&agg.Errors,
			&agg.Interactions,
			&renderAvg,
			&renderP50,
			&renderP95,
			&renderP99,
			&renderMax,
			&memMin,
			&memAvg,
			&memMax,
			&errBreakdownRaw,
			&intBreakdownRaw,
			&ctryRaw,
			&agg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		agg.APIAvgMS = nullToFloatPtr(apiAvg)
		agg.RenderAvgMS = nullToFloatPtr(renderAvg)
		agg.RenderP50MS = nullToFloatPtr(renderP50)
		agg.RenderP95MS = nullToFloatPtr(renderP95)
		agg.RenderP99MS = nullToFloatPtr(renderP99)
		agg.RenderMaxMS = nullToFloatPtr(renderMax)
		agg.MemoryMinKB = nullToFloatPtr(memMin)
		agg.MemoryAvgKB = nullToFloatPtr(memAvg)
		agg.MemoryMaxKB = nullToFloatPtr(memMax)
		if agg.ErrorBreakdown, err = unmarshalMap[int64](errBreakdownRaw); err != nil {
			return nil, err
		}
		if agg.InteractionBreakdown, err = unmarshalMap[int64](intBreakdownRaw); err != nil {
			return nil, err
		}
		if agg.CountryBreakdown, err = unmarshalMap[int64](ctryRaw); err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

// UpsertDaily writes daily rollups, fully replacing existing rows for the
// same (component, version, date).
func (r *Repository) UpsertDaily(ctx context.Context, aggs []domain.DailyAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	query := `INSERT INTO daily_aggregates (
		component_id, version_id, date,
		renders, unique_sites, unique_sessions,
		api_calls, api_successes, api_errors,
		errors, interactions,
		avg_render_ms, p95_render_ms, error_rate, api_success_rate,
		error_breakdown, interaction_breakdown, country_breakdown,
		hourly_points, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	ON CONFLICT (component_id, version_id, date) DO UPDATE SET
		renders = EXCLUDED.renders,
		unique_sites = EXCLUDED.unique_sites,
		unique_sessions = EXCLUDED.unique_sessions,
		api_calls = EXCLUDED.api_calls,
		api_successes = EXCLUDED.api_successes,
		api_errors = EXCLUDED.api_errors,
		errors = EXCLUDED.errors,
		interactions = EXCLUDED.interactions,
		avg_render_ms = EXCLUDED.avg_render_ms,
		p95_render_ms = EXCLUDED.p95_render_ms,
		error_rate = EXCLUDED.error_rate,
		api_success_rate = EXCLUDED.api_success_rate,
		error_breakdown = EXCLUDED.error_breakdown,
		interaction_breakdown = EXCLUDED.interaction_breakdown,
		country_breakdown = EXCLUDED.country_breakdown,
		hourly_points = EXCLUDED.hourly_points,
		updated_at = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, agg := range aggs {
		errBreakdown, err := marshalMap(agg.ErrorBreakdown)
		if err != nil {
			return fmt.Errorf("marshal error breakdown: %w", err)
		}
		intBreakdown, err := marshalMap(agg.InteractionBreakdown)
		if err != nil {
			return fmt.Errorf("marshal interaction breakdown: %w", err)
		}
		ctryBreakdown, err := marshalMap(agg.CountryBreakdown)
		if err != nil {
			return fmt.Errorf("marshal country breakdown: %w", err)
		}
		var points any
		if len(agg.HourlyPoints) > 0 {
			raw, err := json.Marshal(agg.HourlyPoints)
			if err != nil {
				return fmt.Errorf("marshal hourly points: %w", err)
			}
			points = raw
		}
		batch.Queue(query,
			agg.ComponentID,
			agg.VersionID,
			agg.Date.UTC(),
			agg.Renders,
			agg.UniqueSites,
			agg.UniqueSessions,
			agg.APICalls,
			agg.APISuccesses,
			agg.APIErrors,
			agg.Errors,
			agg.Interactions,
			floatPtrToNil(agg.AvgRenderMS),
			floatPtrToNil(agg.P95RenderMS),
			agg.ErrorRate,
			agg.APISuccessRate,
			errBreakdown,
			intBreakdown,
			ctryBreakdown,
			points,
			agg.UpdatedAt.UTC(),
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range aggs {
		if _, err := results.Exec(); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

// ListDailyRange returns a component's daily rollups with
// from <= date < to, oldest first.
func (r *Repository) ListDailyRange(ctx context.Context, componentID string, from, to time.Time) ([]domain.DailyAggregate, error) {
	query := `SELECT component_id, version_id, date,
		renders, unique_sites, unique_sessions,
		api_calls, api_successes, api_errors,
		errors, interactions,
		avg_render_ms, p95_render_ms, error_rate, api_success_rate,
		error_breakdown, interaction_breakdown, country_breakdown,
		hourly_points, updated_at
	FROM daily_aggregates
	WHERE component_id = $1 AND date >= $2 AND date < $3
	ORDER BY date ASC, version_id ASC`
	rows, err := r.pool.Query(ctx, query, componentID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggs := make([]domain.DailyAggregate, 0)
	for rows.Next() {
		var (
			agg             domain.DailyAggregate
			avgRender       sql.NullFloat64
			p95Render       sql.NullFloat64
			errBreakdownRaw []byte
			intBreakdownRaw []byte
			ctryRaw         []byte
			pointsRaw       []byte
		)
		if err := rows.Scan(
			&agg.ComponentID,
			&agg.VersionID,
			&agg.Date,
			&agg.Renders,
			&agg.UniqueSites,
			&agg.UniqueSessions,
			&agg.APICalls,
			&agg.APISuccesses,
			&agg.APIErrors,
			&agg.Errors,
			&agg.Interactions,
			&avgRender,
			&p95Render,
			&agg.ErrorRate,
			&agg.APISuccessRate,
			&errBreakdownRaw,
			&intBreakdownRaw,
			&ctryRaw,
			&pointsRaw,
			&agg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		agg.AvgRenderMS = nullToFloatPtr(avgRender)
		agg.P95RenderMS = nullToFloatPtr(p95Render)
		if agg.ErrorBreakdown, err = unmarshalMap[int64](errBreakdownRaw); err != nil {
			return nil, err
		}
		if agg.InteractionBreakdown, err = unmarshalMap[int64](intBreakdownRaw); err != nil {
			return nil, err
		}
		if agg.CountryBreakdown, err = unmarshalMap[int64](ctryRaw); err != nil {
			return nil, err
		}
		if len(pointsRaw) > 0 {
			if err := json.Unmarshal(pointsRaw, &agg.HourlyPoints); err != nil {
				return nil, err
			}
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}
