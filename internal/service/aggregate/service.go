package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plugboard/analytics/internal/domain"
	"github.com/plugboard/analytics/internal/repository"
)

const defaultInterval = 5 * time.Minute

// Service computes hourly rollups from raw events and daily rollups from
// hourly rows, on a periodic schedule independent of ingestion. Every write
// is a full replace keyed by (component, version, bucket), so recomputing a
// bucket after late-arriving events is safe and converges.
type Service struct {
	events     repository.EventRepository
	aggregates repository.AggregateRepository
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time
}

// New constructs an aggregation service.
func New(events repository.EventRepository, aggregates repository.AggregateRepository, logger *slog.Logger, interval time.Duration) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		events:     events,
		aggregates: aggregates,
		logger:     logger.With("component", "aggregator"),
		interval:   interval,
		now:        time.Now,
	}
}

// Run executes the rollup loop until the context is cancelled. Each pass
// recomputes the in-progress hour plus the previous one, and the in-progress
// day plus the previous one, folding in whatever arrived late. A failed pass
// is logged and retried on the next tick; no backfill machinery is needed
// because reruns replace.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("aggregator started", "interval", s.interval)
	s.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("aggregator stopped")
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Service) runIteration(ctx context.Context) {
	now := s.now().UTC()
	hour := now.Truncate(time.Hour)
	day := now.Truncate(24 * time.Hour)

	for _, h := range []time.Time{hour.Add(-time.Hour), hour} {
		if err := s.RunHour(ctx, h); err != nil {
			s.logger.Warn("hourly rollup pass failed", "hour", h, "error", err)
		}
	}
	for _, d := range []time.Time{day.Add(-24 * time.Hour), day} {
		if err := s.RunDay(ctx, d); err != nil {
			s.logger.Warn("daily rollup pass failed", "date", d, "error", err)
		}
	}
}

// RunHour recomputes the hourly rollups of every component active in the
// given hour.
func (s *Service) RunHour(ctx context.Context, hourStart time.Time) error {
	hourStart = hourStart.UTC().Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour)

	components, err := s.events.ListActiveComponents(ctx, hourStart, hourEnd)
	if err != nil {
		return fmt.Errorf("list active components: %w", err)
	}
	for _, componentID := range components {
		if err := s.RunHourFor(ctx, componentID, hourStart); err != nil {
			return err
		}
	}
	return nil
}

// RunHourFor recomputes one component's rollups for one hour.
func (s *Service) RunHourFor(ctx context.Context, componentID string, hourStart time.Time) error {
	hourStart = hourStart.UTC().Truncate(time.Hour)
	events, err := s.events.ListEventsRange(ctx, componentID, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		return fmt.Errorf("load events for %s: %w", componentID, err)
	}
	if len(events) == 0 {
		return nil
	}
	aggs := BuildHourly(componentID, hourStart, events, s.now().UTC())
	if err := s.aggregates.UpsertHourly(ctx, aggs); err != nil {
		return fmt.Errorf("upsert hourly for %s: %w", componentID, err)
	}
	return nil
}

// RunDay recomputes the daily rollups of every component active on the
// given date.
func (s *Service) RunDay(ctx context.Context, date time.Time) error {
	day := date.UTC().Truncate(24 * time.Hour)

	components, err := s.events.ListActiveComponents(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("list active components: %w", err)
	}
	for _, componentID := range components {
		if err := s.RunDayFor(ctx, componentID, day); err != nil {
			return err
		}
	}
	return nil
}

// RunDayFor recomputes one component's daily rollup from its hourly rows.
func (s *Service) RunDayFor(ctx context.Context, componentID string, date time.Time) error {
	day := date.UTC().Truncate(24 * time.Hour)
	hourlies, err := s.aggregates.ListHourlyRange(ctx, componentID, day, day.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("load hourly rows for %s: %w", componentID, err)
	}
	if len(hourlies) == 0 {
		return nil
	}
	aggs := BuildDaily(componentID, day, hourlies, s.now().UTC())
	if err := s.aggregates.UpsertDaily(ctx, aggs); err != nil {
		return fmt.Errorf("upsert daily for %s: %w", componentID, err)
	}
	return nil
}

// ListHourly returns a component's hourly rollups for [from, to).
func (s *Service) ListHourly(ctx context.Context, componentID string, from, to time.Time) ([]domain.HourlyAggregate, error) {
	return s.aggregates.ListHourlyRange(ctx, componentID, from, to)
}

// ListDaily returns a component's daily rollups for [from, to).
func (s *Service) ListDaily(ctx context.Context, componentID string, from, to time.Time) ([]domain.DailyAggregate, error) {
	return s.aggregates.ListDailyRange(ctx, componentID, from, to)
}
